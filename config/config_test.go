package config

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/kbukum/flowkit/errors"
)

func validConfig() Config {
	cfg := Config{Name: "orders"}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Environment != "development" || !cfg.Debug {
		t.Errorf("got environment %q debug %t, want development and true", cfg.Environment, cfg.Debug)
	}
	if cfg.Logging.ServiceName != "orders" {
		t.Errorf("got logging service name %q, want orders", cfg.Logging.ServiceName)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("got logging level %q, want info", cfg.Logging.Level)
	}
	if got, want := cfg.Schedulers.Bounded.MaxWorkers, 10*runtime.NumCPU(); got != want {
		t.Errorf("got bounded max workers %d, want %d", got, want)
	}
	if cfg.Schedulers.Bounded.MaxQueued != DefaultBoundedQueue {
		t.Errorf("got bounded max queued %d, want %d", cfg.Schedulers.Bounded.MaxQueued, DefaultBoundedQueue)
	}
	if cfg.Schedulers.Parallel.Workers != runtime.NumCPU() {
		t.Errorf("got parallel workers %d, want %d", cfg.Schedulers.Parallel.Workers, runtime.NumCPU())
	}
	if cfg.Stream.Prefetch != DefaultPrefetch {
		t.Errorf("got prefetch %d, want %d", cfg.Stream.Prefetch, DefaultPrefetch)
	}
	if cfg.Observability.Endpoint != DefaultTracingEndpoint {
		t.Errorf("got endpoint %q, want %q", cfg.Observability.Endpoint, DefaultTracingEndpoint)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Name:        "orders",
		Environment: "production",
		Stream:      StreamConfig{Prefetch: 8},
		Retry:       RetryConfig{MaxRetries: 7, InitialBackoff: time.Second},
	}
	cfg.ApplyDefaults()

	if cfg.Debug {
		t.Error("got debug true for production")
	}
	if cfg.Stream.Prefetch != 8 {
		t.Errorf("got prefetch %d, want 8", cfg.Stream.Prefetch)
	}
	if cfg.Retry.MaxRetries != 7 || cfg.Retry.InitialBackoff != time.Second {
		t.Errorf("got retry %+v, want max 7 and initial 1s", cfg.Retry)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing name", func(c *Config) { c.Name = "" }, "name"},
		{"bad environment", func(c *Config) { c.Environment = "qa" }, "environment"},
		{"zero prefetch", func(c *Config) { c.Stream.Prefetch = -1 }, "stream.prefetch"},
		{"no workers", func(c *Config) { c.Schedulers.Parallel.Workers = -2 }, "schedulers.parallel.workers"},
		{"max below initial backoff", func(c *Config) { c.Retry.MaxBackoff = time.Millisecond }, "retry.max_backoff"},
		{"jitter above one", func(c *Config) { c.Retry.Jitter = 1.5 }, "retry.jitter"},
		{"sample rate above one", func(c *Config) { c.Observability.SampleRate = 2 }, "observability.sample_rate"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.key == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if k := errors.KindOf(err); k != errors.KindIllegalArgument {
				t.Errorf("got kind %s, want %s", k, errors.KindIllegalArgument)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("got %q, want it to name %s", err.Error(), tt.key)
			}
		})
	}
}

func TestValidate_ListsFieldErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Name = ""
	cfg.Retry.Jitter = -1

	var appErr *errors.Error
	if !errors.As(cfg.Validate(), &appErr) {
		t.Fatal("expected an *errors.Error")
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok {
		t.Fatalf("got details %v, want a []FieldError", appErr.Details)
	}
	var keys []string
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"name", "retry.jitter"}) {
		t.Errorf("got keys %v, want [name retry.jitter]", keys)
	}
}

func TestRetryConfigPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Retry = RetryConfig{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Factor: 3, Jitter: 0.2}
	p := cfg.Retry.Policy()

	if p.MaxRetries != 5 || p.InitialBackoff != 50*time.Millisecond || p.MaxBackoff != time.Second {
		t.Errorf("got policy %+v", p)
	}
	if p.BackoffFactor != 3 || p.Jitter != 0.2 {
		t.Errorf("got factor %v jitter %v, want 3 and 0.2", p.BackoffFactor, p.Jitter)
	}
	if p.RetryIf == nil {
		t.Error("expected the default retry predicate")
	}
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yaml := `
name: orders
environment: staging
schedulers:
  bounded:
    max_workers: 4
    ttl: 30s
stream:
  prefetch: 64
  assembly_tracing: true
retry:
  initial_backoff: 250ms
observability:
  tracing: true
  sample_rate: 0.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWKIT_TEST_STREAM_PREFETCH", "128")
	t.Setenv("FLOWKIT_TEST_SCHEDULERS_PARALLEL_WORKERS", "3")

	var cfg Config
	err := LoadConfig("orders", &cfg, WithConfigFile(path), WithEnvFile(filepath.Join(dir, "missing.env")), WithEnvPrefix("FLOWKIT_TEST"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Name != "orders" || cfg.Environment != "staging" {
		t.Errorf("got name %q environment %q", cfg.Name, cfg.Environment)
	}
	if cfg.Schedulers.Bounded.MaxWorkers != 4 || cfg.Schedulers.Bounded.TTL != 30*time.Second {
		t.Errorf("got bounded %+v, want 4 workers and 30s ttl", cfg.Schedulers.Bounded)
	}
	if cfg.Stream.Prefetch != 128 {
		t.Errorf("got prefetch %d, want the env override 128", cfg.Stream.Prefetch)
	}
	if !cfg.Stream.AssemblyTracing {
		t.Error("got assembly tracing off, want on")
	}
	if cfg.Schedulers.Parallel.Workers != 3 {
		t.Errorf("got parallel workers %d, want 3", cfg.Schedulers.Parallel.Workers)
	}
	if cfg.Retry.InitialBackoff != 250*time.Millisecond {
		t.Errorf("got initial backoff %v, want 250ms", cfg.Retry.InitialBackoff)
	}
	if !cfg.Observability.Tracing || cfg.Observability.SampleRate != 0.5 {
		t.Errorf("got observability %+v", cfg.Observability)
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("FLOWKIT_ENVFILE_NAME=from-env-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("FLOWKIT_ENVFILE_NAME") })

	var cfg Config
	if err := LoadConfig("orders", &cfg, WithConfigFile(filepath.Join(dir, "none.yml")), WithEnvFile(envPath), WithEnvPrefix("FLOWKIT_ENVFILE")); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name != "from-env-file" {
		t.Errorf("got name %q, want from-env-file", cfg.Name)
	}
}

func TestLoadConfig_MissingFilesSucceed(t *testing.T) {
	var cfg Config
	err := LoadConfig("nonexistent", &cfg,
		WithFileSystem(&mockFS{}),
		WithConfigFile("/nonexistent/config.yml"),
		WithEnvPrefix("FLOWKIT_NOTHING"))
	if err != nil {
		t.Fatalf("expected success with missing files, got %v", err)
	}
	if cfg.Name != "" {
		t.Errorf("got name %q, want empty", cfg.Name)
	}
}

type mockFS struct {
	files  map[string]bool
	loaded []string
}

func (m *mockFS) Exists(path string) bool { return m.files[path] }

func (m *mockFS) LoadEnv(path string) error {
	m.loaded = append(m.loaded, path)
	return nil
}

func TestResolver_SearchOrder(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"./cmd/orders/config.yml": true,
		"./config.yml":            true,
		"../.env":                 true,
		"./config/.env.my-orders": true,
	}}
	r := &Resolver{FileSystem: fs}

	got := r.ResolveFiles("my-orders", LoaderConfig{})
	if got.ConfigFile != "./cmd/orders/config.yml" {
		t.Errorf("got config file %q, want ./cmd/orders/config.yml", got.ConfigFile)
	}
	if got.EnvFile != "./config/.env.my-orders" {
		t.Errorf("got env file %q, want ./config/.env.my-orders", got.EnvFile)
	}

	got = r.ResolveFiles("my-orders", LoaderConfig{ConfigFile: "x.yml", EnvFile: "y.env"})
	if got.ConfigFile != "x.yml" || got.EnvFile != "y.env" {
		t.Errorf("got %+v, want the explicit paths", got)
	}
}

func TestEnvKeyVariants(t *testing.T) {
	got := envKeyVariants("SCHEDULERS_BOUNDED_MAX_WORKERS")
	for _, want := range []string{
		"schedulers_bounded_max_workers",
		"schedulers.bounded.max.workers",
		"schedulers.bounded.max_workers",
		"schedulers.bounded_max_workers",
	} {
		if !slices.Contains(got, want) {
			t.Errorf("got %v, want it to contain %s", got, want)
		}
	}
	if got := envKeyVariants("NAME"); !slices.Equal(got, []string{"name"}) {
		t.Errorf("got %v, want [name]", got)
	}
}

func TestBindEnv_PrefixFiltersVariables(t *testing.T) {
	v := viper.New()
	bindEnv(v, []string{"APP_STREAM_PREFETCH=4", "STREAM_PREFETCH=9", "APP_=x", "noequals"}, "APP")

	if got := v.GetInt("stream.prefetch"); got != 4 {
		t.Errorf("got stream.prefetch %d, want 4", got)
	}
	if v.IsSet("app_stream_prefetch") {
		t.Error("prefixed key bound without stripping the prefix")
	}
}
