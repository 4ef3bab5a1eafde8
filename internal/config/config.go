// Package config loads kbretrieve configuration from defaults, YAML or TOML
// files and the environment, and converts it into the values the retrieval
// core consumes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/kbretrieve/internal/backend/remote"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
	"github.com/Aman-CERP/kbretrieve/internal/search"
)

// Top-k purposes.
const (
	PurposeDirect = "direct"
	PurposeAssist = "assist"
)

// Default top-k per purpose.
const (
	DefaultTopKDirect = 3
	DefaultTopKAssist = 5
)

// ProjectFileName is the project-level config file, looked up in the working directory.
const ProjectFileName = ".kbretrieve"

// Config represents the complete kbretrieve configuration.
type Config struct {
	Version    int              `yaml:"version" toml:"version" json:"version"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" toml:"retrieval" json:"retrieval"`
	Remote     RemoteConfig     `yaml:"remote" toml:"remote" json:"remote"`
	Local      LocalConfig      `yaml:"local" toml:"local" json:"local"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Judge      JudgeConfig      `yaml:"judge" toml:"judge" json:"judge"`
	Server     ServerConfig     `yaml:"server" toml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging" json:"logging"`
}

// RetrievalConfig configures backend selection and fusion.
type RetrievalConfig struct {
	// Policy is the selection mode. Legacy names such as azure_only are accepted.
	Policy          string `yaml:"policy" toml:"policy" json:"policy"`
	FallbackOnEmpty bool   `yaml:"fallback_on_empty" toml:"fallback_on_empty" json:"fallback_on_empty"`

	TopKDirect    int            `yaml:"topk_direct" toml:"topk_direct" json:"topk_direct"`
	TopKAssist    int            `yaml:"topk_assist" toml:"topk_assist" json:"topk_assist"`
	CandidateTopK int            `yaml:"candidate_top_k" toml:"candidate_top_k" json:"candidate_top_k"`
	ModeTopK      map[string]int `yaml:"mode_top_k,omitempty" toml:"mode_top_k,omitempty" json:"mode_top_k,omitempty"`

	// SkipMalformed drops malformed backend documents instead of failing the call.
	SkipMalformed bool `yaml:"skip_malformed" toml:"skip_malformed" json:"skip_malformed"`

	AlphaMin     float64 `yaml:"alpha_min" toml:"alpha_min" json:"alpha_min"`
	AlphaMax     float64 `yaml:"alpha_max" toml:"alpha_max" json:"alpha_max"`
	SpreadWeight float64 `yaml:"spread_weight" toml:"spread_weight" json:"spread_weight"`
	CountWeight  float64 `yaml:"count_weight" toml:"count_weight" json:"count_weight"`
	TieEpsilon   float64 `yaml:"tie_epsilon" toml:"tie_epsilon" json:"tie_epsilon"`
	MaxDistance  float64 `yaml:"max_distance" toml:"max_distance" json:"max_distance"`
}

// RemoteConfig configures the hosted search index.
type RemoteConfig struct {
	Endpoint   string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Index      string `yaml:"index" toml:"index" json:"index"`
	APIKey     string `yaml:"api_key" toml:"api_key" json:"-"`
	APIVersion string `yaml:"api_version" toml:"api_version" json:"api_version"`

	IDField      string `yaml:"id_field" toml:"id_field" json:"id_field"`
	ContentField string `yaml:"content_field" toml:"content_field" json:"content_field"`
	VectorField  string `yaml:"vector_field" toml:"vector_field" json:"vector_field"`

	Timeout         string `yaml:"timeout" toml:"timeout" json:"timeout"`
	BreakerFailures int    `yaml:"breaker_failures" toml:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown string `yaml:"breaker_cooldown" toml:"breaker_cooldown" json:"breaker_cooldown"`
}

// LocalConfig configures the embedded corpus backend.
type LocalConfig struct {
	CorpusPath string `yaml:"corpus_path" toml:"corpus_path" json:"corpus_path"`
	Workers    int    `yaml:"workers" toml:"workers" json:"workers"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
}

// EmbeddingsConfig configures the query and corpus embedder.
type EmbeddingsConfig struct {
	// Provider is "static" or "none". With "none" retrieval is lexical only.
	Provider string `yaml:"provider" toml:"provider" json:"provider"`
	// Dimensions must match the remote index's vector field when vectors are
	// sent to the remote backend.
	Dimensions int `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	CacheSize  int `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
}

// JudgeConfig configures the optional alpha judge.
type JudgeConfig struct {
	Enabled         bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Model           string `yaml:"model" toml:"model" json:"model"`
	OllamaHost      string `yaml:"ollama_host" toml:"ollama_host" json:"ollama_host"`
	Timeout         string `yaml:"timeout" toml:"timeout" json:"timeout"`
	CacheSize       int    `yaml:"cache_size" toml:"cache_size" json:"cache_size"`
	MaxContentChars int    `yaml:"max_content_chars" toml:"max_content_chars" json:"max_content_chars"`
}

// ServerConfig configures `kbretrieve serve`.
type ServerConfig struct {
	Addr            string `yaml:"addr" toml:"addr" json:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig configures the file logger.
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level" json:"level"`
	File      string `yaml:"file" toml:"file" json:"file"`
	Stderr    bool   `yaml:"stderr" toml:"stderr" json:"stderr"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	fusion := search.DefaultConfig()
	rc := remote.DefaultConfig()
	jc := search.DefaultJudgeConfig()

	return &Config{
		Version: 1,
		Retrieval: RetrievalConfig{
			Policy:        string(retrieval.DefaultMode),
			TopKDirect:    DefaultTopKDirect,
			TopKAssist:    DefaultTopKAssist,
			CandidateTopK: retrieval.DefaultCandidateTopK,
			AlphaMin:      fusion.AlphaMin,
			AlphaMax:      fusion.AlphaMax,
			SpreadWeight:  fusion.SpreadWeight,
			CountWeight:   fusion.CountWeight,
			TieEpsilon:    fusion.TieEpsilon,
			MaxDistance:   fusion.MaxDistance,
		},
		Remote: RemoteConfig{
			APIVersion:      rc.APIVersion,
			IDField:         rc.IDField,
			ContentField:    rc.ContentField,
			VectorField:     rc.VectorField,
			Timeout:         rc.Timeout.String(),
			BreakerFailures: int(rc.BreakerFailures),
			BreakerCooldown: rc.BreakerCooldown.String(),
		},
		Local: LocalConfig{
			Workers:   runtime.NumCPU(),
			BatchSize: 32,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Dimensions: 256,
			CacheSize:  1000,
		},
		Judge: JudgeConfig{
			Enabled:         false,
			Model:           jc.Model,
			OllamaHost:      jc.OllamaHost,
			Timeout:         jc.Timeout.String(),
			CacheSize:       jc.CacheSize,
			MaxContentChars: jc.MaxContentChars,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8088",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/kbretrieve/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/kbretrieve/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbretrieve", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbretrieve", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbretrieve", "config.yaml")
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/kbretrieve/config.yaml)
//  3. Project config (.kbretrieve.yaml, .kbretrieve.yml or .kbretrieve.toml in dir)
//  4. Environment variables (KB_* legacy names, then KBRETRIEVE_*)
func Load(dir string) (*Config, error) {
	return LoadWith(dir, "")
}

// LoadWith is Load with an explicit file applied after the project file.
func LoadWith(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if path := FindProjectFile(dir); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if explicit != "" {
		if err := cfg.LoadFile(explicit); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindProjectFile returns the project config file in dir, or "" if none exists.
// YAML takes precedence over TOML.
func FindProjectFile(dir string) string {
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		path := filepath.Join(dir, ProjectFileName+ext)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// LoadFile overlays the YAML or TOML file at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeConfigNotFound, "cannot read config file", err).
			WithDetail("path", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, c)
	} else {
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return amerrors.ConfigError("cannot parse config file", err).
			WithDetail("path", path).
			WithSuggestion("Run 'kbretrieve config init' to write a fresh file")
	}
	return nil
}

// applyEnvOverrides applies environment overrides. KB_* names from earlier
// deployments are read first so KBRETRIEVE_* wins when both are set.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides() {
	for _, prefix := range []string{"KB_", "KBRETRIEVE_"} {
		if v := os.Getenv(prefix + "POLICY"); v != "" {
			if _, err := retrieval.ParseMode(v); err == nil {
				c.Retrieval.Policy = strings.TrimSpace(v)
			}
		}
		if v, ok := os.LookupEnv(prefix + "FALLBACK_ON_EMPTY"); ok {
			c.Retrieval.FallbackOnEmpty = parseTruthy(v)
		}
		if n, ok := positiveEnv(prefix + "TOPK_DIRECT"); ok {
			c.Retrieval.TopKDirect = n
		}
		if n, ok := positiveEnv(prefix + "TOPK_ASSIST"); ok {
			c.Retrieval.TopKAssist = n
		}
	}

	if v := os.Getenv("KBRETRIEVE_REMOTE_ENDPOINT"); v != "" {
		c.Remote.Endpoint = v
	}
	if v := os.Getenv("KBRETRIEVE_REMOTE_INDEX"); v != "" {
		c.Remote.Index = v
	}
	if v := os.Getenv("KBRETRIEVE_REMOTE_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	if v := os.Getenv("KBRETRIEVE_LOCAL_CORPUS"); v != "" {
		c.Local.CorpusPath = v
	}
	if v := os.Getenv("KBRETRIEVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv("KBRETRIEVE_JUDGE_ENABLED"); ok {
		c.Judge.Enabled = parseTruthy(v)
	}
}

// parseTruthy accepts 1, true and yes in any case.
func parseTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func positiveEnv(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ResolveTopK picks the final result count: a positive override wins, then the
// configured value for the purpose, then the purpose default. Unknown purposes
// are treated as direct.
func (c *Config) ResolveTopK(purpose string, override int) int {
	if override > 0 {
		return override
	}
	if strings.EqualFold(strings.TrimSpace(purpose), PurposeAssist) {
		if c.Retrieval.TopKAssist > 0 {
			return c.Retrieval.TopKAssist
		}
		return DefaultTopKAssist
	}
	if c.Retrieval.TopKDirect > 0 {
		return c.Retrieval.TopKDirect
	}
	return DefaultTopKDirect
}

// Policy converts the retrieval section into a validated retrieval.Policy for
// the given purpose. A positive override also disables retrieval.mode_top_k.
func (c *Config) Policy(purpose string, override int) (retrieval.Policy, error) {
	mode, err := retrieval.ParseMode(c.Retrieval.Policy)
	if err != nil {
		return retrieval.Policy{}, amerrors.ConfigError("invalid retrieval.policy", err).
			WithDetail("policy", c.Retrieval.Policy)
	}

	p := retrieval.DefaultPolicy()
	p.Mode = mode
	p.FallbackOnEmpty = c.Retrieval.FallbackOnEmpty
	p.TopK = c.ResolveTopK(purpose, override)
	p.CandidateTopK = c.Retrieval.CandidateTopK
	p.SkipMalformed = c.Retrieval.SkipMalformed
	p.UseJudge = c.Judge.Enabled
	p.Fusion = search.Config{
		AlphaMin:     c.Retrieval.AlphaMin,
		AlphaMax:     c.Retrieval.AlphaMax,
		SpreadWeight: c.Retrieval.SpreadWeight,
		CountWeight:  c.Retrieval.CountWeight,
		TieEpsilon:   c.Retrieval.TieEpsilon,
		MaxDistance:  c.Retrieval.MaxDistance,
	}

	if len(c.Retrieval.ModeTopK) > 0 && override <= 0 {
		p.ModeTopK = make(map[retrieval.Mode]int, len(c.Retrieval.ModeTopK))
		for name, k := range c.Retrieval.ModeTopK {
			m, err := retrieval.ParseMode(name)
			if err != nil {
				return retrieval.Policy{}, amerrors.ConfigError("invalid mode in retrieval.mode_top_k", err).
					WithDetail("mode", name)
			}
			p.ModeTopK[m] = k
		}
	}

	if err := p.Validate(); err != nil {
		return retrieval.Policy{}, amerrors.ConfigError("invalid retrieval settings", err)
	}
	return p, nil
}

// Overrides are per-request adjustments to the configured policy.
type Overrides struct {
	Purpose string
	TopK    int
	// Mode replaces retrieval.policy when set.
	Mode string
	// FallbackOnEmpty replaces retrieval.fallback_on_empty when non-nil.
	FallbackOnEmpty *bool
}

// PolicyFor builds the policy for one request. Bad request values are
// validation errors; bad configuration stays a config error.
func (c *Config) PolicyFor(o Overrides) (retrieval.Policy, error) {
	if o.TopK < 0 {
		return retrieval.Policy{}, amerrors.ValidationError(fmt.Sprintf("top_k must not be negative, got %d", o.TopK), nil)
	}
	p, err := c.Policy(o.Purpose, o.TopK)
	if err != nil {
		return retrieval.Policy{}, err
	}
	if strings.TrimSpace(o.Mode) != "" {
		mode, err := retrieval.ParseMode(o.Mode)
		if err != nil {
			return retrieval.Policy{}, amerrors.New(amerrors.ErrCodeInvalidInput, "unknown retrieval policy", err).
				WithDetail("policy", o.Mode).
				WithSuggestion("Use one of strict-remote, strict-local, prefer-remote, prefer-local, federated")
		}
		p.Mode = mode
	}
	if o.FallbackOnEmpty != nil {
		p.FallbackOnEmpty = *o.FallbackOnEmpty
	}
	return p, nil
}

// RemoteEnabled reports whether a remote endpoint is configured.
func (c *Config) RemoteEnabled() bool {
	return strings.TrimSpace(c.Remote.Endpoint) != ""
}

// BackendConfig converts the remote section for remote.New.
func (r RemoteConfig) BackendConfig() remote.Config {
	cfg := remote.DefaultConfig()
	cfg.Endpoint = r.Endpoint
	cfg.Index = r.Index
	cfg.APIKey = r.APIKey
	if r.APIVersion != "" {
		cfg.APIVersion = r.APIVersion
	}
	if r.IDField != "" {
		cfg.IDField = r.IDField
	}
	if r.ContentField != "" {
		cfg.ContentField = r.ContentField
	}
	if r.VectorField != "" {
		cfg.VectorField = r.VectorField
	}
	if d, err := time.ParseDuration(r.Timeout); err == nil && d > 0 {
		cfg.Timeout = d
	}
	if r.BreakerFailures > 0 {
		cfg.BreakerFailures = uint32(r.BreakerFailures)
	}
	if d, err := time.ParseDuration(r.BreakerCooldown); err == nil && d > 0 {
		cfg.BreakerCooldown = d
	}
	return cfg
}

// SearchConfig converts the judge section for search.NewLLMJudge.
func (j JudgeConfig) SearchConfig() search.JudgeConfig {
	cfg := search.DefaultJudgeConfig()
	if j.Model != "" {
		cfg.Model = j.Model
	}
	if j.OllamaHost != "" {
		cfg.OllamaHost = j.OllamaHost
	}
	if d, err := time.ParseDuration(j.Timeout); err == nil && d > 0 {
		cfg.Timeout = d
	}
	if j.CacheSize > 0 {
		cfg.CacheSize = j.CacheSize
	}
	if j.MaxContentChars > 0 {
		cfg.MaxContentChars = j.MaxContentChars
	}
	return cfg
}

// ShutdownTimeoutDuration parses the server shutdown timeout, defaulting to 10s.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(s.ShutdownTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if _, err := retrieval.ParseMode(c.Retrieval.Policy); err != nil {
		return invalid("retrieval.policy", c.Retrieval.Policy, err)
	}
	if c.Retrieval.TopKDirect < 0 || c.Retrieval.TopKAssist < 0 || c.Retrieval.CandidateTopK < 0 {
		return invalid("retrieval top-k", "negative", nil)
	}

	for field, v := range map[string]string{
		"remote.timeout":          c.Remote.Timeout,
		"remote.breaker_cooldown": c.Remote.BreakerCooldown,
		"judge.timeout":           c.Judge.Timeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return invalid(field, v, err)
		}
	}
	if c.Remote.BreakerFailures < 0 {
		return invalid("remote.breaker_failures", strconv.Itoa(c.Remote.BreakerFailures), nil)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "static", "none":
	default:
		return invalid("embeddings.provider", c.Embeddings.Provider, nil)
	}
	if c.Embeddings.Dimensions < 0 {
		return invalid("embeddings.dimensions", strconv.Itoa(c.Embeddings.Dimensions), nil)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", c.Logging.Level, nil)
	}

	// fusion settings are checked by the policy conversion
	if _, err := c.Policy(PurposeDirect, 0); err != nil {
		return err
	}
	return nil
}

func invalid(field, value string, cause error) error {
	return amerrors.ConfigError(fmt.Sprintf("invalid %s: %s", field, value), cause).
		WithDetail("field", field)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
