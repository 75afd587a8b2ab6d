package sampler

import (
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "racefit/internal/errors"
)

// Config controls one sampling run
type Config struct {
	Warmup         int           `yaml:"warmup" json:"warmup" env:"WARMUP" validate:"gte=0"`
	Draws          int           `yaml:"draws" json:"draws" env:"DRAWS" validate:"gt=0"`
	TargetAccept   float64       `yaml:"target_accept" json:"target_accept" env:"TARGET_ACCEPT" validate:"gt=0,lt=1"`
	MaxTreeDepth   int           `yaml:"max_tree_depth" json:"max_tree_depth" env:"MAX_TREE_DEPTH" validate:"gte=1,lte=15"`
	Chains         int           `yaml:"chains" json:"chains" env:"CHAINS" validate:"gte=0"`          // 0 resolves from the CPU count
	Parallelism    int           `yaml:"parallelism" json:"parallelism" env:"CORES" validate:"gte=0"` // 0 resolves from the CPU count
	Seed           int64         `yaml:"seed" json:"seed" env:"SEED"`
	ReportInterval time.Duration `yaml:"report_interval" json:"report_interval" env:"REPORT_INTERVAL" validate:"gte=0"`
}

// DefaultConfig returns the study defaults
func DefaultConfig() Config {
	return Config{
		Warmup:         1000,
		Draws:          1000,
		TargetAccept:   0.8,
		MaxTreeDepth:   10,
		Seed:           42,
		ReportInterval: 10 * time.Second,
	}
}

var validate = validator.New()

// Validate checks field ranges
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}
	return nil
}

// Concurrency is the resolved chain and worker layout of a run
type Concurrency struct {
	Chains      int `json:"chains"`
	Parallelism int `json:"parallelism"`
}

// ResolveConcurrency picks a chain count of clamp(ncpu, 2, 4) and runs at
// most ncpu chains at once. Positive overrides win; parallelism never
// exceeds the chain count.
func ResolveConcurrency(ncpu int, chains, parallelism int) Concurrency {
	if ncpu < 1 {
		ncpu = 1
	}
	c := Concurrency{Chains: chains, Parallelism: parallelism}
	if c.Chains <= 0 {
		c.Chains = min(max(ncpu, 2), 4)
	}
	if c.Parallelism <= 0 {
		c.Parallelism = min(c.Chains, ncpu)
	}
	c.Parallelism = min(c.Parallelism, c.Chains)
	return c
}
