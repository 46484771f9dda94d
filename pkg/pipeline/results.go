package pipeline

import (
	"github.com/samber/lo"

	"mepmap/internal/models"
	"mepmap/pkg/metrics"
	"mepmap/pkg/sheet"
)

// ResultColumns is the header row of the results sheet.
var ResultColumns = []string{
	"Subject File Name", "Muscle",
	"Hotspot X", "Hotspot Y", "Hotspot Z",
	"Max MEP",
	"COM X", "COM Y", "COM Z",
	"Map area (mm^2)", "Map volume (mm^2 * mV)",
	"SD Hotspot X", "SD Hotspot Y", "SD Hotspot Z",
	"SD COM X", "SD COM Y", "SD COM Z",
	"Coordinates Used", "Dilation (mm)", "Smoothing kernel (mm)", "MEP threshold",
}

// notApplicable fills standard-space cells when normalization is disabled.
const notApplicable = "-"

// ResultRow flattens m into the cells of one results sheet row.
func ResultRow(m models.SubjectMetrics) []interface{} {
	row := []interface{}{
		m.Subject, m.Channel,
		m.Hotspot[0], m.Hotspot[1], m.Hotspot[2],
		m.MaxAmplitude,
		metrics.Round(m.CenterOfMass[0], 2), metrics.Round(m.CenterOfMass[1], 2), metrics.Round(m.CenterOfMass[2], 2),
		m.MapArea, m.MapVolume,
	}
	row = append(row, standardCells(m.StandardHotspot)...)
	row = append(row, standardCells(m.StandardCenterOfMass)...)
	return append(row, m.CoordinateConvention, m.Dilate, m.SmoothingKernel, m.Threshold)
}

func standardCells(p *[3]float64) []interface{} {
	if p == nil {
		return []interface{}{notApplicable, notApplicable, notApplicable}
	}
	return []interface{}{metrics.Round(p[0], 2), metrics.Round(p[1], 2), metrics.Round(p[2], 2)}
}

// WriteResults writes one row per recorded subject and channel.
func WriteResults(path string, rows []models.SubjectMetrics) error {
	return sheet.Write(path, ResultColumns, lo.Map(rows, func(m models.SubjectMetrics, _ int) []interface{} {
		return ResultRow(m)
	}))
}
