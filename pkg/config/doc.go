// Package config loads environment-driven configuration structs.
//
// Fields are described with github.com/caarlos0/env tags. A .env file in the
// working directory is read once, on first use, through
// github.com/joho/godotenv; real environment variables always win over it.
// Each struct type is parsed once and cached, so packages can call Load for
// the same type without re-reading the environment.
//
//	type AppConfig struct {
//	    Backend string `env:"TOKENSTORE_BACKEND" envDefault:"memory"`
//	}
//
//	var cfg AppConfig
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
package config
