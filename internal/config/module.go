package config

import (
	"go.uber.org/fx"
)

// Module provides *Config, the MongoDB handles and the EmailSender.
var Module = fx.Module("config",
	fx.Provide(
		LoadValidated,
		NewMongoDBClient,
		NewEmailSender,
	),
)

// LoadValidated is Load followed by Validate.
func LoadValidated() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
