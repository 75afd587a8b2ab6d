package run

import (
	"crypto/sha256"
	"fmt"

	"racefit/domain/core"
)

// Fingerprint ensures deterministic replay: the same inputs, sampler
// settings, seed and code version always hash to the same value.
type Fingerprint struct {
	InputHash   core.Hash `json:"input_hash"`
	ConfigHash  core.Hash `json:"config_hash"`
	Seed        int64     `json:"seed"`
	CodeVersion string    `json:"code_version"`
	Fingerprint core.Hash `json:"fingerprint"` // Hash of all above
}

// NewFingerprint creates a fingerprint from determinism parameters
func NewFingerprint(inputHash, configHash core.Hash, seed int64, codeVersion string) Fingerprint {
	return Fingerprint{
		InputHash:   inputHash,
		ConfigHash:  configHash,
		Seed:        seed,
		CodeVersion: codeVersion,
		Fingerprint: computeFingerprint(inputHash, configHash, seed, codeVersion),
	}
}

// computeFingerprint generates deterministic hash from all determinism parameters
func computeFingerprint(inputHash, configHash core.Hash, seed int64, codeVersion string) core.Hash {
	data := fmt.Sprintf("input:%s|config:%s|seed:%d|code:%s", inputHash, configHash, seed, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
