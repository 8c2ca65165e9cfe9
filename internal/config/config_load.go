package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			ServerURL:         "http://127.0.0.1:11434",
			RequestTimeoutSec: 600,
			MaxRetries:        2,
			WarmUpOnStart:     true,
		},
		Inference: InferenceConfig{
			ModelName:          "llama3.1:8b",
			EmbeddingModelName: "nomic-embed-text",
			FormatMode:         FormatModeJSON,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Storage: StorageConfig{
			Dir: "~/.llmosd/persistent_storage",
		},
		Personas: PersonasConfig{
			Dir:  "~/.llmosd/personas",
			Seed: true,
		},
		Functions: FunctionsConfig{
			InContextSets: FlexibleStringSlice{"base"},
		},
		Web: WebConfig{
			MaxQPS:         1,
			PageMaxBytes:   2 << 20,
			RequestTimeout: 30,
		},
		Interpreter: InterpreterConfig{
			PythonBin:  "python3",
			TimeoutSec: 180,
			MemoryMB:   512,
		},
		Runtime: RuntimeConfig{
			MaxConcurrentSteps: 1,
			IdleEvictionMins:   30,
			JanitorSchedule:    "*/5 * * * *",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("LLMOSD_HOST_URL", &c.Host.ServerURL)
	envStr("LLMOSD_MODEL", &c.Inference.ModelName)
	envStr("LLMOSD_EMBEDDING_MODEL", &c.Inference.EmbeddingModelName)
	envStr("LLMOSD_FORMAT_MODE", &c.Inference.FormatMode)

	envStr("LLMOSD_LISTEN_HOST", &c.Server.Host)
	if v := os.Getenv("LLMOSD_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	envStr("LLMOSD_STORAGE_DIR", &c.Storage.Dir)
	envStr("LLMOSD_PERSONAS_DIR", &c.Personas.Dir)

	// Web secrets
	envStr("LLMOSD_GOOGLE_API_KEY", &c.Web.APIKey)
	envStr("LLMOSD_GOOGLE_CSE_ID", &c.Web.SearchEngineID)

	// Interpreter
	envStr("LLMOSD_PYTHON_BIN", &c.Interpreter.PythonBin)

	// Telemetry
	envStr("LLMOSD_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("LLMOSD_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("LLMOSD_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("LLMOSD_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LLMOSD_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("LLMOSD_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("LLMOSD_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("LLMOSD_TSNET_DIR", &c.Tailscale.StateDir)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after modifying config to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secret fields carry a `json:"-"`
// tag and never reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// StoragePath returns the expanded conversation storage root.
func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Storage.Dir)
}

// PersonasPath returns the expanded personas root.
func (c *Config) PersonasPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Personas.Dir)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
