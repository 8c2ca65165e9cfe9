package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the llmosd daemon.
type Config struct {
	Host        HostConfig        `json:"host"`
	Inference   InferenceConfig   `json:"inference"`
	Server      ServerConfig      `json:"server"`
	Storage     StorageConfig     `json:"storage"`
	Personas    PersonasConfig    `json:"personas"`
	Functions   FunctionsConfig   `json:"functions"`
	Web         WebConfig         `json:"web,omitempty"`
	Interpreter InterpreterConfig `json:"interpreter,omitempty"`
	Runtime     RuntimeConfig     `json:"runtime"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Tailscale   TailscaleConfig   `json:"tailscale,omitempty"`
	mu          sync.RWMutex
}

// HostConfig points at the Ollama-compatible model host.
type HostConfig struct {
	ServerURL         string `json:"server_url"`                    // e.g. "http://127.0.0.1:11434"
	RequestTimeoutSec int    `json:"request_timeout_sec,omitempty"` // per-request timeout (default 600)
	MaxRetries        int    `json:"max_retries,omitempty"`         // retries on transient host errors (default 2)
	WarmUpOnStart     bool   `json:"warm_up_on_start,omitempty"`    // issue an empty generate on startup to load the model
}

// Response-format modes for InferenceConfig.FormatMode.
const (
	FormatModeNone       = "none"
	FormatModeJSON       = "json"
	FormatModeStructured = "structured"
)

// InferenceConfig selects models and the response-format mode.
type InferenceConfig struct {
	ModelName          string `json:"model_name"`
	EmbeddingModelName string `json:"embedding_model_name"`
	FormatMode         string `json:"format_mode,omitempty"` // "none", "json" (default), "structured"
	CtxWindow          int    `json:"ctx_window,omitempty"`  // 0 = derive from the model family
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host          string  `json:"host"`
	Port          int     `json:"port"`
	RateLimitRPS  float64 `json:"rate_limit_rps,omitempty"` // per-client request budget (default 10/s)
	DebugMessages bool    `json:"debug_messages,omitempty"` // echo raw model replies to clients as debug_message entries
}

// StorageConfig locates per-conversation persistent state.
type StorageConfig struct {
	Dir string `json:"dir"` // conversation directories live directly under this
}

// PersonasConfig locates persona text files (agents/ and humans/ subdirectories).
type PersonasConfig struct {
	Dir   string `json:"dir"`
	Seed  bool   `json:"seed,omitempty"`  // write the built-in personas on first run
	Watch bool   `json:"watch,omitempty"` // reload the persona list on file changes
}

// FunctionsConfig controls which function sets are rendered into the
// system prompt. All registered sets stay callable either way.
type FunctionsConfig struct {
	InContextSets FlexibleStringSlice `json:"in_context_sets"`
}

// WebConfig configures Google Programmable Search and page loading.
// APIKey comes from env LLMOSD_GOOGLE_API_KEY only (never persisted).
type WebConfig struct {
	APIKey         string  `json:"-"`
	SearchEngineID string  `json:"search_engine_id,omitempty"`
	MaxQPS         float64 `json:"max_qps,omitempty"`          // client-side CSE rate limit (default 1)
	PageMaxBytes   int64   `json:"page_max_bytes,omitempty"`   // cap on fetched page size (default 2MB)
	RequestTimeout int     `json:"request_timeout,omitempty"`  // seconds (default 30)
}

// InterpreterConfig configures the sandboxed Python runner.
type InterpreterConfig struct {
	PythonBin  string `json:"python_bin,omitempty"`  // default "python3"
	TimeoutSec int    `json:"timeout_sec,omitempty"` // wall clock limit (default 180)
	MemoryMB   int    `json:"memory_mb,omitempty"`   // address space limit via ulimit (default 512)
}

// RuntimeConfig bounds concurrent inference and background maintenance.
type RuntimeConfig struct {
	MaxConcurrentSteps int    `json:"max_concurrent_steps,omitempty"` // global step semaphore (default 1)
	IdleEvictionMins   int    `json:"idle_eviction_mins,omitempty"`   // drop cached conversations idle longer than this (default 30)
	JanitorSchedule    string `json:"janitor_schedule,omitempty"`     // cron expression for the eviction sweep (default "*/5 * * * *")
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend
// (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification (default false)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "llmosd")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens)
}

// TailscaleConfig configures the optional Tailscale tsnet listener.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname"`             // Tailscale machine name (e.g. "llmosd")
	StateDir  string `json:"state_dir,omitempty"`  // persistent state directory
	AuthKey   string `json:"-"`                    // from env LLMOSD_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`  // remove node on exit (default false)
	EnableTLS bool   `json:"enable_tls,omitempty"` // use ListenTLS for auto HTTPS certs
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Host = src.Host
	c.Inference = src.Inference
	c.Server = src.Server
	c.Storage = src.Storage
	c.Personas = src.Personas
	c.Functions = src.Functions
	c.Web = src.Web
	c.Interpreter = src.Interpreter
	c.Runtime = src.Runtime
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}
