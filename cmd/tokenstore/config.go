package main

import "time"

// appConfig selects and tunes the backend. Connection settings come from the
// backend's own config struct (pkg/redis, pkg/pg, pkg/mongo).
type appConfig struct {
	Env       string        `env:"APP_ENV" envDefault:"development"`
	Service   string        `env:"APP_NAME" envDefault:"tokenstore"`
	LogLevel  string        `env:"LOG_LEVEL"`
	Backend   string        `env:"TOKENSTORE_BACKEND" envDefault:"memory"`
	OpTimeout time.Duration `env:"TOKENSTORE_OP_TIMEOUT" envDefault:"5s"`
}

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
	backendMongo    = "mongo"
)
