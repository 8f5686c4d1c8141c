package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600)
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := Load(writeConfig(t, "gemini:\n  api_key: abc\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Listen.Port, DefaultPort)
	}
	if cfg.Gemini.URLTemplate != DefaultURLTemplate {
		t.Errorf("url_template = %q, want default", cfg.Gemini.URLTemplate)
	}
	if cfg.Gemini.KeyPlaceholder != "YOUR_API_KEY" {
		t.Errorf("key_placeholder = %q", cfg.Gemini.KeyPlaceholder)
	}
	if cfg.Gemini.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Gemini.Model, DefaultModel)
	}
	if cfg.Gemini.TimeoutSec != DefaultTimeoutSec {
		t.Errorf("timeout_sec = %d, want %d", cfg.Gemini.TimeoutSec, DefaultTimeoutSec)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("allowed_origins = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("log_format = %q, want text", cfg.LogFormat)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("REPLYWRITER_TEST_KEY", "secret123")

	cfg, err := Load(writeConfig(t, "gemini:\n  api_key: ${REPLYWRITER_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Gemini.APIKey, "secret123")
	}
}

func TestLoad_EnvOverridesFileKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(writeConfig(t, "gemini:\n  api_key: from-file\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.APIKey != "from-env" {
		t.Errorf("api_key = %q, want %q", cfg.Gemini.APIKey, "from-env")
	}
}

func TestLoad_RetryDelayDefaultsOnlyWhenRetrying(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := Load(writeConfig(t, "gemini:\n  retry_count: 2\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.RetryDelayMs != DefaultRetryDelayMs {
		t.Errorf("retry_delay_ms = %d, want %d", cfg.Gemini.RetryDelayMs, DefaultRetryDelayMs)
	}

	if Default().Gemini.RetryDelayMs != 0 {
		t.Error("retry_delay_ms should stay zero without retries")
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "template without placeholder",
			yaml:    "gemini:\n  url_template: https://example.com/generate\n",
			wantErr: "placeholder",
		},
		{
			name:    "bad log level",
			yaml:    "log_level: loud\n",
			wantErr: "unknown log level",
		},
		{
			name:    "bad log format",
			yaml:    "log_format: xml\n",
			wantErr: "log_format",
		},
		{
			name:    "port out of range",
			yaml:    "listen:\n  port: 70000\n",
			wantErr: "out of range",
		},
		{
			name:    "negative retries",
			yaml:    "gemini:\n  retry_count: -1\n",
			wantErr: "retry_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_CustomPlaceholder(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := Load(writeConfig(t, "gemini:\n  url_template: https://example.com/x?key=KEY\n  key_placeholder: KEY\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.KeyPlaceholder != "KEY" {
		t.Errorf("key_placeholder = %q, want KEY", cfg.Gemini.KeyPlaceholder)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{" TRACE ", LevelTrace, false},
		{"Debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "payload")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected level=TRACE in %q", buf.String())
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	logger.Info("hello")

	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}
