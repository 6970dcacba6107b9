package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/cortex/internal/embed"
	"github.com/HendryAvila/cortex/internal/textproc"
	"github.com/HendryAvila/cortex/internal/vector"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cortex.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// --- Defaults ---

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Memory.MaxEpisodicMessages != 200 {
		t.Errorf("MaxEpisodicMessages = %d, want 200", cfg.Memory.MaxEpisodicMessages)
	}
	if cfg.Memory.PIIMode != "mask" {
		t.Errorf("PIIMode = %s, want mask", cfg.Memory.PIIMode)
	}
	if cfg.Memory.MaxTextLength != 8000 {
		t.Errorf("MaxTextLength = %d, want 8000", cfg.Memory.MaxTextLength)
	}
	if cfg.Memory.SearchOverfetch != 4 {
		t.Errorf("SearchOverfetch = %d, want 4", cfg.Memory.SearchOverfetch)
	}
	if cfg.Vector.Backend != "local" {
		t.Errorf("Backend = %s, want local", cfg.Vector.Backend)
	}
	if cfg.Vector.Dimension != embed.DefaultDimensions {
		t.Errorf("Dimension = %d, want %d", cfg.Vector.Dimension, embed.DefaultDimensions)
	}
	if cfg.Embedding.Provider != embed.ProviderHash {
		t.Errorf("Provider = %s, want hash", cfg.Embedding.Provider)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Database.Path != Default().Database.Path {
		t.Errorf("Path = %s, want default", cfg.Database.Path)
	}
}

// --- Decoding ---

func TestLoad_FullFile(t *testing.T) {
	path := writeFile(t, `
database:
  path: /var/lib/cortex/cortex.db
  busy_timeout: 2s
memory:
  max_episodic_messages: 50
  pii_mode: store
  max_text_length: 1000
  search_overfetch: 8
vector:
  backend: remote
  dimension: 16
  remote:
    host: https://index.example.com
    api_key: secret
    namespace: prod
    index_name: memories
    timeout: 3s
    max_retries: 0
    rate_limit: 20
embedding:
  provider: hash
  cache_size: 1024
log:
  level: debug
  format: json
  report_caller: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	st := cfg.Store()
	if st.Path != "/var/lib/cortex/cortex.db" || st.BusyTimeout != 2*time.Second {
		t.Errorf("Store() = %+v", st)
	}

	vc := cfg.VectorIndex()
	if vc.Kind != vector.KindRemote || vc.Dimension != 16 {
		t.Errorf("VectorIndex() kind/dim = %s/%d", vc.Kind, vc.Dimension)
	}
	if vc.Remote.Timeout != 3*time.Second {
		t.Errorf("Remote.Timeout = %s, want 3s", vc.Remote.Timeout)
	}
	if vc.Remote.MaxRetries != 0 {
		t.Errorf("Remote.MaxRetries = %d, want explicit 0", vc.Remote.MaxRetries)
	}
	if vc.Remote.RateLimit != 20 || vc.Remote.Namespace != "prod" || vc.Remote.IndexName != "memories" {
		t.Errorf("Remote = %+v", vc.Remote)
	}
	if err := vc.Validate(); err != nil {
		t.Errorf("vector config does not validate: %v", err)
	}

	ec := cfg.Embedder()
	if ec.Dimensions != 16 {
		t.Errorf("embedding dimensions = %d, want vector dimension 16", ec.Dimensions)
	}
	if ec.CacheSize != 1024 {
		t.Errorf("CacheSize = %d, want 1024", ec.CacheSize)
	}

	io := cfg.Ingest()
	if io.MaxEpisodes != 50 || io.PIIMode != textproc.PIIStore || io.MaxTextLength != 1000 {
		t.Errorf("Ingest() = %+v", io)
	}
	if cfg.Conversation().Overfetch != 8 {
		t.Errorf("Overfetch = %d, want 8", cfg.Conversation().Overfetch)
	}

	if !cfg.Log.ReportCaller || cfg.Log.Format != FormatJSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad_DefaultRetries(t *testing.T) {
	cfg, err := Parse([]byte("vector:\n  backend: local\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.VectorIndex().Remote.MaxRetries; got != 3 {
		t.Errorf("MaxRetries = %d, want 3", got)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CORTEX_TEST_KEY", "from-env")
	path := writeFile(t, `
embedding:
  provider: openai
  api_key: ${CORTEX_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.Embedding.APIKey)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "memory:\n  max_episodes: 10\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "max_episodes") {
		t.Errorf("error should name the key, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

// --- Validation ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad pii mode", "memory:\n  pii_mode: redact\n", "pii_mode"},
		{"bad backend", "vector:\n  backend: faiss\n", "vector.backend"},
		{"remote without host", "vector:\n  backend: remote\n  remote:\n    api_key: k\n", "vector.remote.host"},
		{"remote without key", "vector:\n  backend: remote\n  remote:\n    host: https://x\n", "vector.remote.api_key"},
		{"bad timeout", "vector:\n  remote:\n    timeout: soon\n", "vector.remote.timeout"},
		{"negative retries", "vector:\n  remote:\n    max_retries: -1\n", "max_retries"},
		{"bad provider", "embedding:\n  provider: word2vec\n", "embedding.provider"},
		{"openai without key", "embedding:\n  provider: openai\n", "embedding.api_key"},
		{"dimension disagreement", "vector:\n  dimension: 8\nembedding:\n  dimensions: 16\n", "must equal"},
		{"bad overfetch", "memory:\n  search_overfetch: -2\n", "search_overfetch"},
		{"bad log level", "log:\n  level: loud\n", "log.level"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte("memory:\n  pii_mode: nope\nlog:\n  format: xml\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"pii_mode", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}
