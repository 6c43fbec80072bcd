package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		Index: IndexConfig{
			Driver:   "pinecone",
			Name:     "fortus-support",
			Pinecone: PineconeConfig{APIKey: "pk", Host: "https://idx.example.io"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Index.Driver = "qdrant"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}

	expected := `index.driver must be "pinecone" or "redis", got "qdrant"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_PineconeRequiresHost(t *testing.T) {
	cfg := validConfig()
	cfg.Index.Pinecone.Host = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing pinecone host")
	}
}

func TestValidate_RedisRequiresAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Index.Driver = "redis"
	cfg.Index.Redis.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing redis addrs")
	}
}

func TestValidate_FallbackForDefaultLanguage(t *testing.T) {
	cfg := validConfig()
	cfg.Prompt.DefaultLanguage = "fi"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when default language has no fallback phrase")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Retrieval.TopK != 5 {
		t.Errorf("expected top_k default 5, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.ScoreThreshold != 0.4 {
		t.Errorf("expected score_threshold default 0.4, got %g", cfg.Retrieval.ScoreThreshold)
	}
	if cfg.Retrieval.MaxPassages != 5 {
		t.Errorf("expected max_passages default 5, got %d", cfg.Retrieval.MaxPassages)
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Errorf("expected dimensions default 1024, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.QueryInstruction != "query: " || cfg.Embedding.PassageInstruction != "passage: " {
		t.Errorf("expected e5 instruction defaults, got %q / %q",
			cfg.Embedding.QueryInstruction, cfg.Embedding.PassageInstruction)
	}
	if cfg.Completion.EmptyAnswer == "" {
		t.Error("expected a default empty-answer placeholder")
	}
	if _, ok := cfg.Prompt.Fallbacks["sv"]; !ok {
		t.Error("expected a Swedish fallback phrase by default")
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("SUPPORTKB_TEST_KEY", "secret")
	defer os.Unsetenv("SUPPORTKB_TEST_KEY")

	in := []byte("api_key: ${SUPPORTKB_TEST_KEY}\nhost: ${SUPPORTKB_TEST_MISSING:-fallback.example.io}\n")
	out := string(expandEnvVars(in))

	want := "api_key: secret\nhost: fallback.example.io\n"
	if out != want {
		t.Errorf("unexpected expansion:\ngot:  %q\nwant: %q", out, want)
	}
}
