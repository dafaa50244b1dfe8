package pubsub

import (
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/activity-fanout/pkg/config"
)

func TestSubscriptionResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"proj", "fanout-entity-events", "projects/proj/subscriptions/fanout-entity-events"},
		{"proj", " projects/other/subscriptions/x ", "projects/other/subscriptions/x"},
		{"", "fanout-entity-events", ""},
		{"proj", "  ", ""},
	}
	for _, tc := range cases {
		if got := SubscriptionResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("SubscriptionResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.EntityEventsSubscription() != nil {
		t.Fatalf("expected nil subscriber")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestReceiveSettingsApplyFlowControl(t *testing.T) {
	got := receiveSettings(config.PubSubConfig{MaxOutstandingMessages: 10, NumGoroutines: 4})
	if got.MaxOutstandingMessages != 10 || got.NumGoroutines != 4 {
		t.Fatalf("unexpected settings %+v", got)
	}

	defaults := receiveSettings(config.PubSubConfig{})
	if defaults.MaxOutstandingMessages != pubsub.DefaultReceiveSettings.MaxOutstandingMessages {
		t.Fatalf("expected library default, got %d", defaults.MaxOutstandingMessages)
	}
}
