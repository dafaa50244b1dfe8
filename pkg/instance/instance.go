package instance

import (
	"fmt"
	"os"
	"strings"
)

const envInstanceID = "FANOUT_INSTANCE_ID"

// ID identifies this process in logs and lock ownership values. It prefers
// FANOUT_INSTANCE_ID, then falls back to hostname and pid.
func ID() string {
	if id := strings.TrimSpace(os.Getenv(envInstanceID)); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
