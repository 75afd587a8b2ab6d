package prep

import (
	"racefit/adapters/excel"
	apperrors "racefit/internal/errors"
)

// Columns lists, per logical field, the candidate header names in priority
// order. The first header present in the table wins.
type Columns struct {
	Participant []string `yaml:"participant"`
	Modality    []string `yaml:"modality"`
	UIMode      []string `yaml:"ui_mode"`
	RT          []string `yaml:"rt_ms"`
	Correct     []string `yaml:"correct"`
	Difficulty  []string `yaml:"difficulty"`
	Amplitude   []string `yaml:"amplitude"`
	Width       []string `yaml:"width"`
	Pressure    []string `yaml:"pressure"`
}

// DefaultColumns covers the historical export schemas of the study
func DefaultColumns() Columns {
	return Columns{
		Participant: []string{"participant_id", "pid"},
		Modality:    []string{"modality"},
		UIMode:      []string{"ui_mode", "interface_mode"},
		RT:          []string{"rt_ms", "movement_time_ms"},
		Correct:     []string{"correct"},
		Difficulty:  []string{"ID", "difficulty", "index_of_difficulty"},
		Amplitude:   []string{"A", "amplitude", "target_distance_A"},
		Width:       []string{"W", "width", "target_width_W"},
		Pressure:    []string{"pressure"},
	}
}

// resolved holds the header chosen for each field; "" means absent
type resolved struct {
	participant string
	modality    string
	uiMode      string
	rt          string
	correct     string
	difficulty  string
	amplitude   string
	width       string
	pressure    string
}

func firstPresent(src excel.Source, candidates []string) string {
	for _, c := range candidates {
		if src.HasColumn(c) {
			return c
		}
	}
	return ""
}

// resolve picks one file's headers and fails on a missing required field
func (c Columns) resolve(src excel.Source) (resolved, error) {
	r := resolved{
		participant: firstPresent(src, c.Participant),
		modality:    firstPresent(src, c.Modality),
		uiMode:      firstPresent(src, c.UIMode),
		rt:          firstPresent(src, c.RT),
		correct:     firstPresent(src, c.Correct),
		difficulty:  firstPresent(src, c.Difficulty),
		amplitude:   firstPresent(src, c.Amplitude),
		width:       firstPresent(src, c.Width),
		pressure:    firstPresent(src, c.Pressure),
	}

	var err error
	switch {
	case r.rt == "":
		err = apperrors.MissingColumn("rt_ms", c.RT)
	case r.correct == "":
		err = apperrors.MissingColumn("correct", c.Correct)
	case r.participant == "":
		err = apperrors.MissingColumn("participant", c.Participant)
	case r.modality == "":
		err = apperrors.MissingColumn("modality", c.Modality)
	}
	if err != nil && src.File != "" {
		err = apperrors.Wrapf(err, "in %s", src.File)
	}
	return r, err
}
