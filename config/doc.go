// Package config loads and validates flowkit engine configuration.
//
// It uses Viper to read a config.yml and a .env file from standard locations
// and lets environment variables override file values. Struct tags are
// checked with go-playground/validator.
//
// # Usage
//
//	var cfg config.Config
//	if err := config.LoadConfig("orders", &cfg); err != nil {
//	    return err
//	}
//	cfg.ApplyDefaults()
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// Environment variables map to nested keys by splitting on underscores, so
// SCHEDULERS_BOUNDED_MAX_WORKERS sets schedulers.bounded.max_workers.
package config
