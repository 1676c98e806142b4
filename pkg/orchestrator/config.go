package orchestrator

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime tunable. All fields are optional —
// DefaultConfig fills in sensible defaults, and the per-engine defaults
// (silence chunks, max buffer seconds) differ for local vs. remote
// engines.
type Config struct {
	Engine Engine
	Model  string
	Device Device

	SampleRate int

	RMSThreshold float64

	SilenceChunks     int
	SilenceBufferKeep int
	MaxBufferSec      float64
	MaxSentenceSec    float64

	MinSentenceChars int

	ParallelRequests int
	RequestTimeout   time.Duration
	ConnectTimeout   time.Duration

	IdleTimeout time.Duration

	APIKey    string
	AppID     string
	SecretKey string

	MaxBufferSamples int
}

// DefaultConfig returns the defaults for a local two-pass engine.
// Callers that select a remote engine should call ApplyEngineDefaults after
// setting Engine so the remote-specific defaults (silence chunks, max
// buffer seconds) take effect.
func DefaultConfig() Config {
	cfg := Config{
		Engine:            EngineTwoPassLocal,
		SampleRate:        16000,
		RMSThreshold:      0.009,
		SilenceChunks:     3,
		SilenceBufferKeep: 2,
		MaxBufferSec:      20.0,
		MaxSentenceSec:    20.0,
		MinSentenceChars:  2,
		ParallelRequests:  2,
		RequestTimeout:    25 * time.Second,
		ConnectTimeout:    3 * time.Second,
		IdleTimeout:       5 * time.Minute,
		Device:            DeviceAuto,
	}
	cfg.MaxBufferSamples = int(30.0 * float64(cfg.SampleRate))
	return cfg
}

// ApplyEngineDefaults fills in the engine-specific defaults (remote
// engines use a 5s max buffer and 2-chunk silence threshold; local
// engines use 20s / 3 chunks) for any field still at its zero value.
// Call after setting cfg.Engine.
func (c *Config) ApplyEngineDefaults() {
	remote := c.Engine == EngineRemoteWS || c.Engine == EngineRemoteHTTPRace
	if c.SilenceChunks == 0 {
		if remote {
			c.SilenceChunks = 2
		} else {
			c.SilenceChunks = 3
		}
	}
	if c.MaxBufferSec == 0 {
		if remote {
			c.MaxBufferSec = 5.0
		} else {
			c.MaxBufferSec = 20.0
		}
	}
}

// LoadConfigFromEnv overlays environment variables onto base, env values
// winning. A pure function so cmd/asrd can layer env on top of a
// YAML-loaded base.
func LoadConfigFromEnv(base Config) Config {
	cfg := base
	if v := os.Getenv("ENGINE"); v != "" {
		cfg.Engine = Engine(v)
	}
	if v := os.Getenv("MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("DEVICE"); v != "" {
		cfg.Device = Device(v)
	}
	if v, err := strconv.Atoi(os.Getenv("SAMPLE_RATE")); err == nil && v > 0 {
		cfg.SampleRate = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("RMS_THRESHOLD"), 64); err == nil && v > 0 {
		cfg.RMSThreshold = v
	}
	if v, err := strconv.Atoi(os.Getenv("SILENCE_CHUNKS")); err == nil && v > 0 {
		cfg.SilenceChunks = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("MAX_BUFFER_SEC"), 64); err == nil && v > 0 {
		cfg.MaxBufferSec = v
	}
	if v, err := strconv.Atoi(os.Getenv("MIN_SENTENCE_CHARS")); err == nil && v > 0 {
		cfg.MinSentenceChars = v
	}
	if v, err := strconv.Atoi(os.Getenv("PARALLEL_REQUESTS")); err == nil && v > 0 {
		cfg.ParallelRequests = v
	}
	if v, err := strconv.Atoi(os.Getenv("REQUEST_TIMEOUT")); err == nil && v > 0 {
		cfg.RequestTimeout = time.Duration(v) * time.Second
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("APP_ID"); v != "" {
		cfg.AppID = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	cfg.MaxBufferSamples = int(30.0 * float64(cfg.SampleRate))
	return cfg
}

// yamlConfig mirrors Config's keyed fields for the optional file-based
// overlay operators can use instead of a wall of env vars. Durations are
// expressed in whole seconds, matching REQUEST_TIMEOUT's env-var unit.
type yamlConfig struct {
	Engine string `yaml:"engine"`
	Model  string `yaml:"model"`
	Device string `yaml:"device"`

	SampleRate   int     `yaml:"sample_rate"`
	RMSThreshold float64 `yaml:"rms_threshold"`

	SilenceChunks    int     `yaml:"silence_chunks"`
	MaxBufferSec     float64 `yaml:"max_buffer_sec"`
	MinSentenceChars int     `yaml:"min_sentence_chars"`

	ParallelRequests  int `yaml:"parallel_requests"`
	RequestTimeoutSec int `yaml:"request_timeout_sec"`

	APIKey    string `yaml:"api_key"`
	AppID     string `yaml:"app_id"`
	SecretKey string `yaml:"secret_key"`
}

// LoadConfigFromYAML overlays path's settings onto base. A missing file
// is not an error — the config file is always optional. Callers apply
// this before LoadConfigFromEnv so env vars win.
func LoadConfigFromYAML(base Config, path string) (Config, error) {
	cfg := base
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, err
	}

	if raw.Engine != "" {
		cfg.Engine = Engine(raw.Engine)
	}
	if raw.Model != "" {
		cfg.Model = raw.Model
	}
	if raw.Device != "" {
		cfg.Device = Device(raw.Device)
	}
	if raw.SampleRate > 0 {
		cfg.SampleRate = raw.SampleRate
	}
	if raw.RMSThreshold > 0 {
		cfg.RMSThreshold = raw.RMSThreshold
	}
	if raw.SilenceChunks > 0 {
		cfg.SilenceChunks = raw.SilenceChunks
	}
	if raw.MaxBufferSec > 0 {
		cfg.MaxBufferSec = raw.MaxBufferSec
	}
	if raw.MinSentenceChars > 0 {
		cfg.MinSentenceChars = raw.MinSentenceChars
	}
	if raw.ParallelRequests > 0 {
		cfg.ParallelRequests = raw.ParallelRequests
	}
	if raw.RequestTimeoutSec > 0 {
		cfg.RequestTimeout = time.Duration(raw.RequestTimeoutSec) * time.Second
	}
	if raw.APIKey != "" {
		cfg.APIKey = raw.APIKey
	}
	if raw.AppID != "" {
		cfg.AppID = raw.AppID
	}
	if raw.SecretKey != "" {
		cfg.SecretKey = raw.SecretKey
	}

	cfg.MaxBufferSamples = int(30.0 * float64(cfg.SampleRate))
	return cfg, nil
}
