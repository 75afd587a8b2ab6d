package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"racefit/internal/errors"
	"racefit/internal/model"
	"racefit/internal/prep"
	"racefit/internal/sampler"
)

// EnvPrefix namespaces every environment variable
const EnvPrefix = "RACEFIT_"

// Config represents the complete run configuration
type Config struct {
	Input            string `yaml:"input" env:"INPUT" validate:"required"`
	Output           string `yaml:"output" env:"OUTPUT" validate:"required"`
	Parameterization string `yaml:"parameterization" env:"PARAMETERIZATION" validate:"oneof=non_centered centered"`
	SQLiteTrace      bool   `yaml:"sqlite_trace" env:"SQLITE_TRACE"`
	CodeVersion      string `yaml:"-" env:"CODE_VERSION"`

	Sampler sampler.Config `yaml:"sampler" envPrefix:"SAMPLER_"`
	Prep    prep.Options   `yaml:"prep" envPrefix:"PREP_"`
	Priors  model.Priors   `yaml:"priors"`
}

// Default returns the conventional project layout and study defaults
func Default() Config {
	return Config{
		Input:            "data/clean",
		Output:           "analysis/results",
		Parameterization: model.NonCentered.String(),
		CodeVersion:      "dev",
		Sampler:          sampler.DefaultConfig(),
		Prep:             prep.DefaultOptions(),
		Priors:           model.DefaultPriors(),
	}
}

// Load layers defaults, RACEFIT_* environment variables and the optional
// YAML run file at path, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrap(err, "failed to parse environment"))
	}

	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to read run file %s", path))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to parse run file %s", path))
	}
	return nil
}

var validate = validator.New()

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, errors.Wrap(err, "configuration validation failed"))
	}
	if err := c.Priors.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

// ModelOptions returns the model-builder options
func (c *Config) ModelOptions() (model.Options, error) {
	p, err := model.ParseParameterization(c.Parameterization)
	if err != nil {
		return model.Options{}, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return model.Options{Parameterization: p}, nil
}
