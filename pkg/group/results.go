package group

import (
	"mepmap/internal/models"
	"mepmap/pkg/metrics"
	"mepmap/pkg/sheet"
)

// ResultColumns is the header row of the group table.
var ResultColumns = []string{
	"Muscle", "Subject",
	"Hotspot X", "Hotspot Y", "Hotspot Z",
	"COM X", "COM Y", "COM Z",
	"Dist. to group hotspot", "Dist. to group COM",
}

// MeanRowLabel marks the row describing the mean map of a channel.
const MeanRowLabel = "Mean group map"

// ResultRows lists, per channel, the mean map row followed by one row per subject.
func ResultRows(groups []models.GroupMetrics) [][]interface{} {
	var rows [][]interface{}
	for _, g := range groups {
		rows = append(rows, []interface{}{
			g.Channel, MeanRowLabel,
			metrics.Round(g.Hotspot[0], 0), metrics.Round(g.Hotspot[1], 0), metrics.Round(g.Hotspot[2], 0),
			metrics.Round(g.CenterOfMass[0], 2), metrics.Round(g.CenterOfMass[1], 2), metrics.Round(g.CenterOfMass[2], 2),
			0, 0,
		})
		for _, s := range g.Subjects {
			rows = append(rows, []interface{}{
				g.Channel, s.Subject,
				s.Hotspot[0], s.Hotspot[1], s.Hotspot[2],
				metrics.Round(s.CenterOfMass[0], 2), metrics.Round(s.CenterOfMass[1], 2), metrics.Round(s.CenterOfMass[2], 2),
				metrics.Round(s.HotspotDistance, 2), metrics.Round(s.COMDistance, 2),
			})
		}
	}
	return rows
}

func WriteResults(path string, groups []models.GroupMetrics) error {
	return sheet.Write(path, ResultColumns, ResultRows(groups))
}
