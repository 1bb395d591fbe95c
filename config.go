package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the environment-driven server settings. Command-line flags
// override these after loading.
type Config struct {
	Port         int      `envconfig:"PORT" default:"3000"`
	BindAddr     string   `envconfig:"BIND_ADDR" default:""`
	GoogleAPIKey string   `envconfig:"GOOGLE_API_KEY"`
	DataPath     string   `envconfig:"DATA_PATH"`
	RelayURLs    []string `envconfig:"RELAY"`
	CredKey      string   `envconfig:"CRED_KEY"`
}

// LoadConfig reads .env (when present) and then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env config: %w", err)
	}
	return cfg, nil
}
