package instance

import (
	"os"
	"strconv"
	"strings"
	"testing"
)

func TestIDPrefersEnv(t *testing.T) {
	t.Setenv(envInstanceID, " cron-7 ")
	if got := ID(); got != "cron-7" {
		t.Fatalf("expected env id, got %q", got)
	}
}

func TestIDFallsBackToHostAndPid(t *testing.T) {
	t.Setenv(envInstanceID, "")
	got := ID()
	if !strings.HasSuffix(got, "-"+strconv.Itoa(os.Getpid())) {
		t.Fatalf("expected pid suffix, got %q", got)
	}
}
