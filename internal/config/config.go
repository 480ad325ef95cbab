// Package config loads the process configuration enumerated in §6 of the
// spec from the environment: the listen port, the project directory the
// Tool Surface and Review Agent are rooted at, the data directory backing
// the SQLite store, the optional model API key, and the optional Memory
// Store MongoDB connection.
//
// No repo in the retrieved pack carries an environment-variable config
// library (BurntSushi/toml and titanous/json5 are file-format parsers, not
// env loaders) so this one package stays on stdlib os/strconv, per
// DESIGN.md.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the fully validated process configuration.
type Config struct {
	// Port is the UI Message Hub's listen port, 1-65535.
	Port int
	// ProjectDir is the absolute, existing workspace root the Tool Surface
	// and Review Agent are confined to.
	ProjectDir string
	// DataDir holds the SQLite database file. Defaults to "<home>/.paige".
	DataDir string
	// ModelAPIKey is the external LM provider key. When empty, Model Client
	// and Memory Store features degrade to no-op/empty-result per §6.
	ModelAPIKey string
	// MongoURI is the Memory Store's backing MongoDB connection string.
	// When empty, the Memory Store is not wired and Reflect/Coach degrade
	// to no-op per §6.
	MongoURI string
	// MongoDatabase is the database name the Memory Store reads/writes.
	MongoDatabase string
}

const (
	envPort          = "PORT"
	envProjectDir    = "PROJECT_DIR"
	envDataDir       = "DATA_DIR"
	envModelAPIKey   = "PAIGE_MODEL_API_KEY"
	envMongoURI      = "MONGO_URI"
	envMongoDatabase = "MONGO_DATABASE"

	defaultPort          = 3001
	defaultMongoDatabase = "paige"
)

// Load reads and validates configuration from the environment.
func Load() (Config, error) {
	cfg := Config{Port: defaultPort}

	if v := os.Getenv(envPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", envPort, err)
		}
		cfg.Port = p
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: %s must be in 1-65535, got %d", envPort, cfg.Port)
	}

	projectDir := os.Getenv(envProjectDir)
	if projectDir == "" {
		return Config{}, fmt.Errorf("config: %s is required", envProjectDir)
	}
	if !filepath.IsAbs(projectDir) {
		return Config{}, fmt.Errorf("config: %s must be an absolute path, got %q", envProjectDir, projectDir)
	}
	info, err := os.Stat(projectDir)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", envProjectDir, err)
	}
	if !info.IsDir() {
		return Config{}, fmt.Errorf("config: %s: %q is not a directory", envProjectDir, projectDir)
	}
	cfg.ProjectDir = projectDir

	dataDir := os.Getenv(envDataDir)
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, errors.New("config: DATA_DIR not set and user home directory could not be determined")
		}
		dataDir = filepath.Join(home, ".paige")
	}
	cfg.DataDir = dataDir

	cfg.ModelAPIKey = os.Getenv(envModelAPIKey)

	cfg.MongoURI = os.Getenv(envMongoURI)
	cfg.MongoDatabase = os.Getenv(envMongoDatabase)
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = defaultMongoDatabase
	}

	return cfg, nil
}
