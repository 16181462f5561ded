package version

import "testing"

func TestStringReflectsBuildVersion(t *testing.T) {
	cleanup := ForTesting("1.2.3-test")
	t.Cleanup(cleanup)

	if got := String(); got != "1.2.3-test" {
		t.Fatalf("expected version 1.2.3-test, got %s", got)
	}
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"dev", "dev"},
		{"0.3.0", "v0.3.0"},
		{"v0.3.0", "v0.3.0"},
	}
	for _, tt := range tests {
		if got := FormatVersion(tt.in); got != tt.want {
			t.Errorf("FormatVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
