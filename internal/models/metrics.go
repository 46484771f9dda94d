package models

// SubjectMetrics is the result row for one (subject, channel) pair.
type SubjectMetrics struct {
	Subject string
	Channel string

	// Hotspot is the patient-space voxel of the masked, normalized heatmap maximum
	Hotspot [3]int

	// CenterOfMass is the patient-space amplitude-weighted centroid, in voxels
	CenterOfMass [3]float64

	// MaxAmplitude is the largest raw amplitude among the undilated samples
	MaxAmplitude float64

	// MapArea is count(non-zero samples) * gridSpacing^2, in mm^2
	MapArea float64

	// MapVolume is sum(amplitude * gridSpacing^2) over non-zero samples
	MapVolume float64

	// StandardHotspot and StandardCenterOfMass are in atlas mm; nil when the
	// heatmap was not warped to standard space
	StandardHotspot      *[3]float64
	StandardCenterOfMass *[3]float64

	CoordinateConvention string
	Dilate               int
	SmoothingKernel      float64
	Threshold            float64
}

// GroupSubjectMetrics is one subject's position relative to the group mean map.
type GroupSubjectMetrics struct {
	Subject         string
	Hotspot         [3]float64
	CenterOfMass    [3]float64
	HotspotDistance float64
	COMDistance     float64
}

// GroupMetrics summarizes the mean standard-space heatmap of one channel.
type GroupMetrics struct {
	Channel      string
	Hotspot      [3]float64
	CenterOfMass [3]float64
	Subjects     []GroupSubjectMetrics
}
