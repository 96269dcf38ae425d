package utils

import (
	"encoding/json"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/vitwit/cryptopay/types"
)

// EnvPrefix prefixes every environment variable read by LoadConfigFromEnv.
const EnvPrefix = "CRYPTOPAY_"

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateConfig checks cfg against its struct tags.
func ValidateConfig(cfg *types.Config) error {
	if cfg == nil {
		return configError("config is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return configError(fmt.Sprintf("validation failed: %v", err))
	}
	return nil
}

// ParseConfig parses and validates a Config from JSON.
func ParseConfig(data []byte) (*types.Config, error) {
	var cfg types.Config

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, configError(fmt.Sprintf("failed to parse config: %v", err))
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigFromEnv reads a Config from CRYPTOPAY_* environment variables.
func LoadConfigFromEnv() (*types.Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix})
}

func loadConfig(opts env.Options) (*types.Config, error) {
	var cfg types.Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, configError(fmt.Sprintf("failed to read environment: %v", err))
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configError(message string) *types.Error {
	return &types.Error{
		Kind:    types.KindValidation,
		Code:    types.ErrConfigError,
		Message: message,
	}
}
