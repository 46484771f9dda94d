package stimulation

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
	"mepmap/pkg/sheet"
)

// Load reads and parses a stimulation sheet.
func Load(path string) (*models.StimulationTable, error) {
	table, err := sheet.Read(path)
	if err != nil {
		return nil, err
	}
	parsed, err := Parse(table.Headers, table.Rows)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse stimulation sheet %s", path)
	}
	return parsed, nil
}

// Parse applies DetectSchema to headers, then converts, crops and validates the
// columns. A channel named by more than one amplitude column is moved to
// Rejected; the remaining channels are still returned.
func Parse(headers []string, rows [][]string) (*models.StimulationTable, error) {
	schema, err := DetectSchema(headers)
	if err != nil {
		return nil, err
	}

	column := func(col int) []float64 {
		values := make([]float64, len(rows))
		for r, row := range rows {
			if col < len(row) {
				values[r] = parseCell(row[col])
			} else {
				values[r] = math.NaN()
			}
		}
		return values
	}

	coords := make(map[Axis][]float64, 3)
	for axis, col := range schema.Coordinates {
		coords[axis] = column(col)
	}

	type rawChannel struct {
		name        string
		amplitudes  []float64
		responsive  []bool
		synthesized bool
	}
	channels := make([]rawChannel, 0, len(schema.Channels))
	for _, cols := range schema.Channels {
		amps := column(cols.Amplitude)
		ch := rawChannel{name: cols.Name, amplitudes: amps}
		if cols.Responsive >= 0 {
			ch.responsive = make([]bool, len(rows))
			for r, row := range rows {
				ch.responsive[r] = cols.Responsive < len(row) && parseFlag(row[cols.Responsive])
			}
		} else {
			log.Warn().Str("channel", cols.Name).Msg("no column marking responsive MEP sites, treating non-zero MEPs as responsive")
			ch.responsive = synthesizeResponsive(amps)
			ch.synthesized = true
		}
		channels = append(channels, ch)
	}

	// Crop: drop missing entries per series, then cut everything to the shortest.
	lengths := make([]int, 0, len(coords)+len(channels))
	for axis, series := range coords {
		coords[axis] = dropMissing(series)
		lengths = append(lengths, len(coords[axis]))
	}
	for i := range channels {
		channels[i].amplitudes = dropMissing(channels[i].amplitudes)
		lengths = append(lengths, len(channels[i].amplitudes))
	}
	crop := lo.Min(lengths)
	for axis := range coords {
		coords[axis] = coords[axis][:crop]
	}

	x, y, z := coords[AxisX], coords[AxisY], coords[AxisZ]
	if len(x) != len(y) || len(y) != len(z) || len(coords) != 3 {
		missing := lo.Filter([]Axis{AxisX, AxisY, AxisZ}, func(a Axis, _ int) bool {
			_, ok := coords[a]
			return !ok
		})
		return nil, errs.ErrDimensionMismatch.WithMessage(
			"X, Y, and Z stimulation coordinate columns do not have the same amount of data points (%d, %d, %d; missing %v)",
			len(x), len(y), len(z), missing)
	}

	table := &models.StimulationTable{
		X:        x,
		Y:        y,
		Z:        z,
		Rejected: make(map[string]error),
	}
	for name, cols := range schema.Ambiguous {
		err := errs.ErrSchema.
			WithMessage("columns %q all name the %s channel", lo.Map(cols, func(c int, _ int) string { return headers[c] }), name).
			WithExtras(errs.Extras{"channel": name, "columns": cols})
		log.Error().Err(err).Str("channel", name).Msg("rejecting channel")
		table.Rejected[name] = err
	}
	// Every series was cut to crop above, so channel and coordinate lengths agree.
	for _, ch := range channels {
		table.Channels = append(table.Channels, models.Channel{
			Name:             ch.name,
			Amplitudes:       ch.amplitudes[:crop],
			Responsive:       ch.responsive[:crop],
			SynthesizedFlags: ch.synthesized,
		})
	}

	log.Debug().
		Int("channels", len(table.Channels)).
		Int("stimulations", table.Len()).
		Msg("parsed stimulation sheet")

	return table, nil
}

// parseCell returns NaN for empty or non-numeric cells.
func parseCell(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseFlag accepts 1/0 as written by most digitizer exports, plus boolean words.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y":
		return true
	}
	return parseCell(s) == 1
}

func dropMissing(series []float64) []float64 {
	return lo.Filter(series, func(v float64, _ int) bool { return !math.IsNaN(v) })
}

func synthesizeResponsive(amplitudes []float64) []bool {
	return lo.Map(amplitudes, func(v float64, _ int) bool { return v != 0 && !math.IsNaN(v) })
}
