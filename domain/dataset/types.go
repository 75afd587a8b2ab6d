package dataset

import (
	"fmt"
	"sort"
)

// Trial is one cleaned observation. Covariates are already normalized and the
// reaction time is in seconds.
type Trial struct {
	ParticipantID string  `json:"participant_id"`
	Modality      string  `json:"modality"`
	UIMode        string  `json:"ui_mode"`
	Difficulty    float64 `json:"difficulty"` // z-scored
	Pressure      float64 `json:"pressure"`   // centered at baseline
	RT            float64 `json:"rt"`
	Correct       bool    `json:"correct"`

	Participant int `json:"-"`
	Cell        int `json:"-"`
}

// IndexMap assigns dense integer indices to categorical labels in sorted order
type IndexMap struct {
	labels []string
	index  map[string]int
}

// NewIndexMap builds an index over the unique labels
func NewIndexMap(labels []string) *IndexMap {
	seen := make(map[string]struct{}, len(labels))
	unique := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		unique = append(unique, l)
	}
	sort.Strings(unique)

	m := &IndexMap{labels: unique, index: make(map[string]int, len(unique))}
	for i, l := range unique {
		m.index[l] = i
	}
	return m
}

// Index returns the index of label
func (m *IndexMap) Index(label string) (int, bool) {
	i, ok := m.index[label]
	return i, ok
}

// Label returns the label at index i
func (m *IndexMap) Label(i int) string {
	return m.labels[i]
}

// Labels returns a copy of all labels in index order
func (m *IndexMap) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Len returns the cardinality
func (m *IndexMap) Len() int {
	return len(m.labels)
}

// AsMap returns label→index
func (m *IndexMap) AsMap() map[string]int {
	out := make(map[string]int, len(m.index))
	for k, v := range m.index {
		out[k] = v
	}
	return out
}

// Cell is one modality × interface-mode condition
type Cell struct {
	Index    int     `json:"index"`
	Modality string  `json:"modality"`
	UIMode   string  `json:"ui_mode"`
	Trials   int     `json:"trials"`
	Errors   int     `json:"errors"`
	MinRT    float64 `json:"min_rt"`
}

// Key is the stable "modality/ui_mode" name of the cell
func (c Cell) Key() string {
	return fmt.Sprintf("%s/%s", c.Modality, c.UIMode)
}

// Dataset is the immutable, cleaned trial table handed to the model
type Dataset struct {
	Trials       []Trial
	Participants *IndexMap
	Modalities   *IndexMap
	UIModes      *IndexMap
	Cells        []Cell

	DifficultyMean   float64
	DifficultySD     float64
	PressureBaseline float64
}

// CellIndex returns the flat cell index for a modality and interface mode
func (d *Dataset) CellIndex(modality, uiMode int) int {
	return modality*d.UIModes.Len() + uiMode
}

// NumCells returns modality × interface-mode cardinality
func (d *Dataset) NumCells() int {
	return d.Modalities.Len() * d.UIModes.Len()
}

// NumParticipants returns the participant cardinality
func (d *Dataset) NumParticipants() int {
	return d.Participants.Len()
}
