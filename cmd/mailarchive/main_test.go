package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `database:
  path: ` + filepath.Join(dir, "db", "archive.db") + `
storage:
  disk: local
  root: ` + filepath.Join(dir, "storage") + `
  bolt_path: ` + filepath.Join(dir, "blobs.db") + `
export:
  dir: ` + filepath.Join(dir, "exports") + `
log:
  level: error
accounts:
  - name: main
    host: imap.example.com
    username: archive@example.com
    password: keyring:main
    sync_interval: manual
  - name: backup
    host: imap.example.com
    username: backup@example.com
    password: secret
    active: false
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAccountsSeedAndList(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "accounts", "seed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "Seeded account main (id 1)") || !strings.Contains(out, "Seeded account backup (id 2)") {
		t.Fatalf("seed output = %q", out)
	}

	// Seeding twice updates in place.
	if out, err = execute(t, "--config", cfg, "accounts", "seed"); err != nil || !strings.Contains(out, "main (id 1)") {
		t.Fatalf("reseed = %q, %v", out, err)
	}

	out, err = execute(t, "--config", cfg, "accounts", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("list output = %q", out)
	}
	// Rows are ordered by name.
	if !strings.Contains(lines[1], "backup") || !strings.Contains(lines[1], "false") || !strings.Contains(lines[1], "inline") {
		t.Fatalf("backup row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "main") || !strings.Contains(lines[2], "keyring") || !strings.Contains(lines[2], "never") {
		t.Fatalf("main row = %q", lines[2])
	}
}

func TestSyncWithNothingDue(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := execute(t, "--config", cfg, "accounts", "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := execute(t, "--config", cfg, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "No accounts need syncing at this time.") {
		t.Fatalf("sync output = %q", out)
	}
}

func TestSyncRejectsUnknownInterval(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := execute(t, "--config", cfg, "sync", "--interval", "fortnightly"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestArchiveWithoutAccounts(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "archive")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.Contains(out, "No active IMAP accounts found.") {
		t.Fatalf("archive output = %q", out)
	}

	if _, err := execute(t, "--config", cfg, "archive", "--account", "missing"); err == nil {
		t.Fatalf("unknown account should fail")
	}
}

func TestExportEmptyArchive(t *testing.T) {
	cfg := writeConfig(t)
	_, err := execute(t, "--config", cfg, "export", "--year", "2024")
	if err == nil || !strings.Contains(err.Error(), "No emails found in the specified date range.") {
		t.Fatalf("err = %v", err)
	}
}

func TestExportRejectsInvertedRange(t *testing.T) {
	cfg := writeConfig(t)
	_, err := execute(t, "--config", cfg, "export", "--from", "2025-02-01", "--to", "2025-01-01")
	if err == nil || !strings.Contains(err.Error(), "start date must be before end date") {
		t.Fatalf("err = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 50); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
	long := strings.Repeat("ä", 60)
	if got := truncate(long, 50); len([]rune(got)) != 50 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
}
