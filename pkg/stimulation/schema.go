// Package stimulation parses stimulation spreadsheets: digitized coordinates
// plus one or more MEP amplitude channels.
package stimulation

import (
	"strings"

	"github.com/samber/lo"

	"mepmap/pkg/errs"
)

// Axis identifies a coordinate column.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	return [...]string{"X", "Y", "Z"}[a]
}

// ChannelColumns locates one channel's columns in the header row.
type ChannelColumns struct {
	Name string

	// Amplitude is the column index of the MEP series
	Amplitude int

	// Responsive is the column index of the responsive flags, -1 if the sheet has none
	Responsive int
}

// Schema is the typed result of header detection.
type Schema struct {
	// Coordinates maps each axis found to its column index
	Coordinates map[Axis]int
	Channels    []ChannelColumns

	// Ambiguous maps a channel name claimed by several amplitude columns to
	// those columns. Such channels are left out of Channels.
	Ambiguous map[string][]int
}

// ChannelName derives a channel name from an amplitude header. It reports false
// when header is not an amplitude column.
func ChannelName(header string) (string, bool) {
	if !strings.Contains(header, "MEP") {
		return "", false
	}
	switch {
	case strings.Contains(header, "MEP_"):
		return strings.ReplaceAll(header, "MEP_", ""), true
	case strings.Contains(header, "_MEP"):
		return strings.ReplaceAll(header, "_MEP", ""), true
	}
	return strings.ReplaceAll(header, "MEP", ""), true
}

func responsiveCandidates(channel string) []string {
	return []string{
		channel + "_responsive",
		channel + "_responsive ",
		"responsive_" + channel,
		"responsive_" + channel + " ",
	}
}

func coordinateAxis(header string) (Axis, bool) {
	switch strings.TrimSpace(header) {
	case "X", "Loc. X":
		return AxisX, true
	case "Y", "Loc. Y":
		return AxisY, true
	case "Z", "Loc. Z":
		return AxisZ, true
	}
	return 0, false
}

// DetectSchema classifies a header row. Amplitude columns are any header
// containing "MEP"; each is paired with a responsive column when one exists.
// Headers such as MEP_APB and APB_MEP that name the same channel make it
// ambiguous. A SchemaError is returned when there are no coordinate columns at all.
func DetectSchema(headers []string) (Schema, error) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, seen := index[h]; !seen {
			index[h] = i
		}
	}

	schema := Schema{Coordinates: make(map[Axis]int)}
	for i, h := range headers {
		if h == "" {
			continue
		}
		if name, ok := ChannelName(h); ok {
			cols := ChannelColumns{Name: name, Amplitude: i, Responsive: -1}
			for _, candidate := range responsiveCandidates(name) {
				if j, found := index[candidate]; found {
					cols.Responsive = j
					break
				}
			}
			schema.Channels = append(schema.Channels, cols)
			continue
		}
		if axis, ok := coordinateAxis(h); ok {
			if _, dup := schema.Coordinates[axis]; !dup {
				schema.Coordinates[axis] = i
			}
		}
	}

	byName := lo.GroupBy(schema.Channels, func(c ChannelColumns) string { return c.Name })
	schema.Channels = lo.Reject(schema.Channels, func(c ChannelColumns, _ int) bool {
		return len(byName[c.Name]) > 1
	})
	for name, cols := range byName {
		if len(cols) > 1 {
			if schema.Ambiguous == nil {
				schema.Ambiguous = make(map[string][]int)
			}
			schema.Ambiguous[name] = lo.Map(cols, func(c ChannelColumns, _ int) int { return c.Amplitude })
		}
	}

	if len(schema.Coordinates) == 0 {
		return Schema{}, errs.ErrSchema.WithMessage("no coordinate columns (X/Loc. X, Y/Loc. Y, Z/Loc. Z) in headers %q", headers)
	}
	return schema, nil
}
