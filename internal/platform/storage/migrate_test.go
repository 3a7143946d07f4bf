package storage

import "testing"

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		base        string
		wantVersion int
		wantName    string
		wantOK      bool
	}{
		{"001_create_events_table.up.sql", 1, "001_create_events_table", true},
		{"010_add_index.up.sql", 10, "010_add_index", true},
		{"001_create_events_table.down.sql", 0, "", false},
		{"notes.txt", 0, "", false},
		{"noversion.up.sql", 0, "", false},
		{"abc_bad_version.up.sql", 0, "", false},
	}

	for _, tt := range tests {
		version, name, ok := parseMigrationFilename(tt.base)
		if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
			t.Errorf("parseMigrationFilename(%q) = (%d, %q, %v), want (%d, %q, %v)",
				tt.base, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
		}
	}
}

func TestPendingMigrationsSkipsApplied(t *testing.T) {
	all, err := pendingMigrations(nil)
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].version >= all[i].version {
			t.Errorf("migrations out of order: %d before %d", all[i-1].version, all[i].version)
		}
	}

	applied := map[int]bool{all[0].version: true}
	rest, err := pendingMigrations(applied)
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(rest) != len(all)-1 {
		t.Errorf("expected %d pending after applying one, got %d", len(all)-1, len(rest))
	}
	for _, mig := range rest {
		if mig.version == all[0].version {
			t.Errorf("applied version %d still pending", mig.version)
		}
	}
}
