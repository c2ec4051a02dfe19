package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		setupEnv map[string]string
		wantEnv  map[string]string
	}{
		{
			name: "valid .env file",
			content: `
# Comment line
NEXCRON_TEST_KEY1=value1
NEXCRON_TEST_KEY2=value with spaces
`,
			wantEnv: map[string]string{
				"NEXCRON_TEST_KEY1": "value1",
				"NEXCRON_TEST_KEY2": "value with spaces",
			},
		},
		{
			name:    "export prefix and quotes",
			content: "export NEXCRON_TEST_TOKEN=\"123456:abc\"\nNEXCRON_TEST_SINGLE='x y'\n",
			wantEnv: map[string]string{
				"NEXCRON_TEST_TOKEN":  "123456:abc",
				"NEXCRON_TEST_SINGLE": "x y",
			},
		},
		{
			name:     "existing variables win",
			content:  "NEXCRON_TEST_KEEP=from-file\n",
			setupEnv: map[string]string{"NEXCRON_TEST_KEEP": "from-env"},
			wantEnv:  map[string]string{"NEXCRON_TEST_KEEP": "from-env"},
		},
		{
			name:    "malformed lines skipped",
			content: "NOEQUALS\n=novalue\nNEXCRON_TEST_OK=1\n",
			wantEnv: map[string]string{"NEXCRON_TEST_OK": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.setupEnv {
				t.Setenv(k, v)
			}
			for k := range tt.wantEnv {
				if _, ok := tt.setupEnv[k]; !ok {
					t.Setenv(k, "")
					os.Unsetenv(k)
				}
			}

			path := filepath.Join(tmpDir, tt.name+".env")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("Failed to write env file: %v", err)
			}

			if err := LoadEnv(path); err != nil {
				t.Fatalf("LoadEnv() error = %v", err)
			}
			for k, want := range tt.wantEnv {
				if got := os.Getenv(k); got != want {
					t.Errorf("%s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestLoadEnvOptional(t *testing.T) {
	if err := LoadEnvOptional(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("LoadEnvOptional() on missing file = %v, want nil", err)
	}
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("LoadEnv() on missing file should fail")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("NEXCRON_TEST_SET", "set")
	os.Unsetenv("NEXCRON_TEST_UNSET")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${NEXCRON_TEST_SET}", "set"},
		{"${NEXCRON_TEST_SET:fallback}", "set"},
		{"${NEXCRON_TEST_UNSET:fallback}", "fallback"},
		{"${NEXCRON_TEST_UNSET}", ""},
		{"${NEXCRON_TEST_SET}/suffix", "set/suffix"},
		{"${broken", "${broken"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
