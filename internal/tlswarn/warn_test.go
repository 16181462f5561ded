package tlswarn

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/nupi-ai/connprof/internal/profile"
)

// TestLogInsecureOncePerProfile must NOT use t.Parallel() because it
// redirects the standard logger.
func TestLogInsecureOncePerProfile(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(orig) })

	LogInsecure("warn-a")
	LogInsecure("warn-a")
	LogInsecure("warn-b")

	output := buf.String()
	if got := strings.Count(output, "[TLS] WARNING:"); got != 2 {
		t.Fatalf("expected 2 warnings, got %d; output:\n%s", got, output)
	}
	if !strings.Contains(output, `profile "warn-b"`) {
		t.Fatalf("warning missing profile name; output:\n%s", output)
	}
}

func TestClientConfig(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(orig) })

	strict := ClientConfig(profile.Profile{Name: "strict", Fields: profile.Fields{}})
	if strict.InsecureSkipVerify {
		t.Fatal("verification must stay on by default")
	}
	lax := ClientConfig(profile.Profile{Name: "lax", Fields: profile.Fields{"rejectUnauthorized": false}})
	if !lax.InsecureSkipVerify {
		t.Fatal("rejectUnauthorized=false must skip verification")
	}
	if !strings.Contains(buf.String(), `profile "lax"`) {
		t.Fatalf("expected a warning for lax; output:\n%s", buf.String())
	}
}
