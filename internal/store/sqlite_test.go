package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/samsaffron/aye/internal/mcp"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(Config{Enabled: true, Path: filepath.Join(t.TempDir(), "aye.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testServer(id string) mcp.ServerConfig {
	return mcp.ServerConfig{
		ID:      id,
		Name:    "Server " + id,
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
		Env:     map[string]string{"DEBUG": "1"},
		Cwd:     "/tmp",
	}
}

func TestSaveAndGetServer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := testServer("fs")
	if err := s.SaveServer(ctx, cfg, true); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}

	rec, err := s.GetServer(ctx, "fs")
	if err != nil {
		t.Fatalf("GetServer() error = %v", err)
	}
	if rec.Config.Name != cfg.Name || rec.Config.Command != cfg.Command || rec.Config.Cwd != cfg.Cwd {
		t.Errorf("GetServer() config = %+v, want %+v", rec.Config, cfg)
	}
	if len(rec.Config.Args) != 3 || rec.Config.Args[2] != "/tmp" {
		t.Errorf("args = %v", rec.Config.Args)
	}
	if rec.Config.Env["DEBUG"] != "1" {
		t.Errorf("env = %v", rec.Config.Env)
	}
	if !rec.Enabled {
		t.Error("expected enabled")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestSaveServerOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := testServer("fs")
	if err := s.SaveServer(ctx, cfg, true); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}
	if err := s.RecordStatus(ctx, "fs", mcp.StatusConnected, ""); err != nil {
		t.Fatalf("RecordStatus() error = %v", err)
	}

	cfg.Command = "uvx"
	cfg.Args = nil
	cfg.Env = nil
	if err := s.SaveServer(ctx, cfg, false); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}

	rec, err := s.GetServer(ctx, "fs")
	if err != nil {
		t.Fatalf("GetServer() error = %v", err)
	}
	if rec.Config.Command != "uvx" {
		t.Errorf("command = %q, want uvx", rec.Config.Command)
	}
	if rec.Config.Args != nil || rec.Config.Env != nil {
		t.Errorf("expected empty args/env to round trip as nil, got %v %v", rec.Config.Args, rec.Config.Env)
	}
	if rec.Enabled {
		t.Error("expected disabled after overwrite")
	}
	if rec.LastStatus != mcp.StatusConnected {
		t.Errorf("last status = %q, want kept", rec.LastStatus)
	}
}

func TestGetServerNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetServer(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetServer() error = %v, want ErrNotFound", err)
	}
}

func TestListServersOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := s.SaveServer(ctx, testServer(id), true); err != nil {
			t.Fatalf("SaveServer(%s) error = %v", id, err)
		}
	}

	recs, err := s.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(recs) != len(want) {
		t.Fatalf("ListServers() returned %d records, want %d", len(recs), len(want))
	}
	for i, id := range want {
		if recs[i].Config.ID != id {
			t.Errorf("recs[%d].ID = %q, want %q", i, recs[i].Config.ID, id)
		}
	}
}

func TestSetEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveServer(ctx, testServer("fs"), true); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}
	if err := s.SetEnabled(ctx, "fs", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	rec, err := s.GetServer(ctx, "fs")
	if err != nil {
		t.Fatalf("GetServer() error = %v", err)
	}
	if rec.Enabled {
		t.Error("expected disabled")
	}

	if err := s.SetEnabled(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEnabled(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRecordStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveServer(ctx, testServer("fs"), true); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}
	if err := s.RecordStatus(ctx, "fs", mcp.StatusError, "handshake failed"); err != nil {
		t.Fatalf("RecordStatus() error = %v", err)
	}
	rec, err := s.GetServer(ctx, "fs")
	if err != nil {
		t.Fatalf("GetServer() error = %v", err)
	}
	if rec.LastStatus != mcp.StatusError || rec.LastError != "handshake failed" {
		t.Errorf("status = %q/%q", rec.LastStatus, rec.LastError)
	}

	// Unknown servers are ignored.
	if err := s.RecordStatus(ctx, "config_other", mcp.StatusConnected, ""); err != nil {
		t.Errorf("RecordStatus(unknown) error = %v", err)
	}
}

func TestSaveAndLoadTools(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveServer(ctx, testServer("fs"), true); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}

	tools := []mcp.Tool{
		{Name: "read_file", Description: "Read a file", InputSchema: map[string]any{"type": "object"}},
		{Name: "list_dir"},
	}
	if err := s.SaveTools(ctx, "fs", tools); err != nil {
		t.Fatalf("SaveTools() error = %v", err)
	}
	if err := s.SaveTools(ctx, "fs", tools[:1]); err != nil {
		t.Fatalf("SaveTools() second error = %v", err)
	}

	snap, err := s.LoadTools(ctx, "fs")
	if err != nil {
		t.Fatalf("LoadTools() error = %v", err)
	}
	if len(snap.Tools) != 1 || snap.Tools[0].Name != "read_file" {
		t.Fatalf("LoadTools() tools = %+v, want latest snapshot", snap.Tools)
	}
	if snap.Tools[0].InputSchema["type"] != "object" {
		t.Errorf("schema = %v", snap.Tools[0].InputSchema)
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("expected updated_at")
	}
}

func TestSaveToolsIgnoresUnknownServer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTools(ctx, "config_fs", []mcp.Tool{{Name: "x"}}); err != nil {
		t.Fatalf("SaveTools() error = %v", err)
	}
	if _, err := s.LoadTools(ctx, "config_fs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadTools() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteServerCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveServer(ctx, testServer("fs"), true); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}
	if err := s.SaveTools(ctx, "fs", []mcp.Tool{{Name: "x"}}); err != nil {
		t.Fatalf("SaveTools() error = %v", err)
	}
	if err := s.DeleteServer(ctx, "fs"); err != nil {
		t.Fatalf("DeleteServer() error = %v", err)
	}
	if _, err := s.GetServer(ctx, "fs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetServer() after delete error = %v", err)
	}
	if _, err := s.LoadTools(ctx, "fs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadTools() after delete error = %v", err)
	}
	if err := s.DeleteServer(ctx, "fs"); err != nil {
		t.Errorf("DeleteServer() miss error = %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aye.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.SaveServer(ctx, testServer("fs"), true); err != nil {
		t.Fatalf("SaveServer() error = %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer s.Close()
	recs, err := s.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ListServers() = %d records, want 1", len(recs))
	}
}

func TestMigratesLegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Layout from before schema versioning: no status columns, no tool table.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE mcp_servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			args TEXT NOT NULL DEFAULT '[]',
			env TEXT NOT NULL DEFAULT '{}',
			cwd TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		INSERT INTO mcp_servers (id, name, command) VALUES ('old', 'Old', 'node');
	`)
	if err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	db.Close()

	s, err := NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.RecordStatus(ctx, "old", mcp.StatusConnected, ""); err != nil {
		t.Fatalf("RecordStatus() after migration error = %v", err)
	}
	if err := s.SaveTools(ctx, "old", []mcp.Tool{{Name: "run"}}); err != nil {
		t.Fatalf("SaveTools() after migration error = %v", err)
	}
	rec, err := s.GetServer(ctx, "old")
	if err != nil {
		t.Fatalf("GetServer() error = %v", err)
	}
	if rec.LastStatus != mcp.StatusConnected {
		t.Errorf("last status = %q", rec.LastStatus)
	}

	var version int
	if err := s.db.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("version = %d, want %d", version, schemaVersion)
	}
}

func TestNewStoreDisabledIsNoop(t *testing.T) {
	s, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*NoopStore); !ok {
		t.Fatalf("NewStore() = %T, want *NoopStore", s)
	}
	if _, err := s.GetServer(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("NoopStore.GetServer() error = %v", err)
	}
}

func TestResolveDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	got, err := ResolveDBPath("")
	if err != nil {
		t.Fatalf("ResolveDBPath() error = %v", err)
	}
	if want := filepath.Join("/data", "aye", "aye.db"); got != want {
		t.Errorf("ResolveDBPath() = %q, want %q", got, want)
	}
	if got, _ := ResolveDBPath(":memory:"); got != ":memory:" {
		t.Errorf("ResolveDBPath(:memory:) = %q", got)
	}
}
