package models

// StimulationRecord is one stimulation site as seen by a single channel.
type StimulationRecord struct {
	// X, Y, Z are the digitized coordinates in voxel units, possibly fractional
	X, Y, Z float64

	// Amplitude is the MEP amplitude recorded for this channel
	Amplitude float64

	// Responsive marks sites that elicited a response in this channel
	Responsive bool
}

// Channel is one named measurement series ("muscle") of a stimulation sheet.
type Channel struct {
	Name       string
	Amplitudes []float64
	Responsive []bool

	// SynthesizedFlags is set when the sheet had no responsive column for this
	// channel and the flags were derived from non-zero amplitudes.
	SynthesizedFlags bool
}

// StimulationTable is the parsed, cropped content of a stimulation sheet.
type StimulationTable struct {
	X, Y, Z []float64

	// Channels holds the accepted channels in sheet column order
	Channels []Channel

	// Rejected maps channel names that failed validation to the reason
	Rejected map[string]error
}

// Len returns the number of stimulation sites.
func (t *StimulationTable) Len() int { return len(t.X) }

// Channel looks a channel up by name.
func (t *StimulationTable) Channel(name string) (Channel, bool) {
	for _, ch := range t.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// ChannelNames lists accepted channel names in sheet order.
func (t *StimulationTable) ChannelNames() []string {
	names := make([]string, len(t.Channels))
	for i, ch := range t.Channels {
		names[i] = ch.Name
	}
	return names
}

// Records pairs the coordinate series with one channel's series.
func (t *StimulationTable) Records(ch Channel) []StimulationRecord {
	n := len(t.X)
	if len(ch.Amplitudes) < n {
		n = len(ch.Amplitudes)
	}
	records := make([]StimulationRecord, n)
	for i := 0; i < n; i++ {
		records[i] = StimulationRecord{
			X:          t.X[i],
			Y:          t.Y[i],
			Z:          t.Z[i],
			Amplitude:  ch.Amplitudes[i],
			Responsive: i < len(ch.Responsive) && ch.Responsive[i],
		}
	}
	return records
}
