package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/activity-fanout/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestActivitiesMigrationContainsIndexes(t *testing.T) {
	content := readMigration(t, "*_create_activities.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS activities",
		"CREATE TABLE IF NOT EXISTS activity_recipients",
		"idx_activities_template_created ON activities (template_id, created_at)",
		"idx_activities_related ON activities (related_entity_type, related_entity_id)",
		"idx_activity_recipients_target_status",
		"ux_activity_recipients_target",
		"REFERENCES activities(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS activity_recipients",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMessageTemplatesMigrationHasUniqueIDIndex(t *testing.T) {
	content := readMigration(t, "*_create_message_templates.sql")
	if !strings.Contains(content, "CREATE UNIQUE INDEX IF NOT EXISTS idx_message_templates_unique_id") {
		t.Fatalf("expected unique index on unique_id")
	}
}

func TestDialect(t *testing.T) {
	if migrate.Dialect("sqlite") != "sqlite3" {
		t.Fatalf("sqlite should map to sqlite3")
	}
	if migrate.Dialect("") != "postgres" || migrate.Dialect("postgres") != "postgres" {
		t.Fatalf("expected postgres default")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestConfigEntitySequencesMigrationBackfills(t *testing.T) {
	content := readMigration(t, "*_create_config_entity_sequences.sql")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS config_entity_sequences",
		"SELECT 'message_templates', COALESCE(MAX(unique_id), -1) + 1 FROM message_templates",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
