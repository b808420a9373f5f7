package testhelpers

import (
	"context"
	"testing"
)

// TruncateAll wipes every application table so a test starts from a clean
// slate without tearing down the shared container.
func TruncateAll(t *testing.T, db *TestDB) {
	t.Helper()

	_, err := db.Pool.Exec(context.Background(), `
		TRUNCATE TABLE context_entries, project_contexts, discoveries,
			project_milestones, schedules, projects CASCADE`)
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}
