package constants

import (
	"strings"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		extension string
	}{
		{"DefaultEnvPath", DefaultEnvPath, ".env"},
		{"DefaultConfigPath", DefaultConfigPath, ".toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.value, "./") {
				t.Errorf("%s should be relative to the working directory, got: %s", tt.name, tt.value)
			}
			if !strings.HasSuffix(tt.value, tt.extension) {
				t.Errorf("Expected extension %s, got path: %s", tt.extension, tt.value)
			}
		})
	}
}
