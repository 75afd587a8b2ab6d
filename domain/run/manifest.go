package run

import (
	"encoding/json"

	"racefit/domain/core"
)

// Manifest is the reproducibility record of one fit. It is written next to
// the exported tables so a run can be replayed exactly.
type Manifest struct {
	RunID        core.RunID     `json:"run_id"`
	InputFiles   []string       `json:"input_files"`
	InputHash    core.Hash      `json:"input_hash"`
	Seed         int64          `json:"seed"`
	Chains       int            `json:"chains"`
	Parallelism  int            `json:"parallelism"`
	Sampler      any            `json:"sampler"`
	Priors       any            `json:"priors"`
	Parameterize string         `json:"parameterization"`
	CodeVersion  string         `json:"code_version"`
	Fingerprint  Fingerprint    `json:"fingerprint"`
	Trials       int            `json:"trials"`
	Participants int            `json:"participants"`
	Cells        []string       `json:"cells"`
	CreatedAt    core.Timestamp `json:"created_at"`
	FinishedAt   core.Timestamp `json:"finished_at,omitzero"`
}

// NewManifest creates a manifest. samplerCfg and priors are recorded verbatim
// and folded into the fingerprint through their JSON encoding.
func NewManifest(inputFiles []string, inputHash core.Hash, seed int64, samplerCfg, priors any, codeVersion string) (*Manifest, error) {
	cfgJSON, err := json.Marshal(struct {
		Sampler any `json:"sampler"`
		Priors  any `json:"priors"`
	}{samplerCfg, priors})
	if err != nil {
		return nil, err
	}
	return &Manifest{
		RunID:       core.NewRunID(),
		InputFiles:  append([]string(nil), inputFiles...),
		InputHash:   inputHash,
		Seed:        seed,
		Sampler:     samplerCfg,
		Priors:      priors,
		CodeVersion: codeVersion,
		Fingerprint: NewFingerprint(inputHash, core.NewHash(cfgJSON), seed, codeVersion),
		CreatedAt:   core.Now(),
	}, nil
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewValidationError("run_manifest", "run_id cannot be empty")
	}
	if m.InputHash.IsEmpty() {
		return core.NewValidationError("run_manifest", "input_hash cannot be empty")
	}
	if m.CodeVersion == "" {
		return core.NewValidationError("run_manifest", "code_version cannot be empty")
	}
	if m.Fingerprint.Fingerprint.IsEmpty() {
		return core.NewValidationError("run_manifest", "fingerprint cannot be empty")
	}
	return nil
}
