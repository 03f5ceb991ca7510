package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/aye/internal/mcp"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Schema for the aye database.
const schema = `
CREATE TABLE IF NOT EXISTS mcp_servers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    command TEXT NOT NULL,
    args TEXT NOT NULL DEFAULT '[]',
    env TEXT NOT NULL DEFAULT '{}',
    cwd TEXT,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    last_status TEXT,
    last_error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mcp_tools (
    server_id TEXT PRIMARY KEY REFERENCES mcp_servers(id) ON DELETE CASCADE,
    tools TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_mcp_servers_enabled ON mcp_servers(enabled);
`

// NewSQLiteStore opens (creating if needed) the database at cfg.Path or the
// default location.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath, err := ResolveDBPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("get db path: %w", err)
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// schemaVersion is the current schema version.
// - Fresh databases get the full schema from `schema` const and start at this version
// - Existing databases run migrations to reach this version
const schemaVersion = 2

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations upgrade databases created before a schema change. The `schema`
// const always holds the full current schema.
var migrations = []migration{
	{
		version:     1,
		description: "add mcp_tools snapshot table",
		up: func(db *sql.DB) error {
			_, err := db.Exec(`
				CREATE TABLE IF NOT EXISTS mcp_tools (
					server_id TEXT PRIMARY KEY REFERENCES mcp_servers(id) ON DELETE CASCADE,
					tools TEXT NOT NULL,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
			return err
		},
	},
	{
		version:     2,
		description: "add last status columns to mcp_servers",
		up: func(db *sql.DB) error {
			alterStatements := []string{
				"ALTER TABLE mcp_servers ADD COLUMN last_status TEXT",
				"ALTER TABLE mcp_servers ADD COLUMN last_error TEXT",
			}
			for _, stmt := range alterStatements {
				if _, err := db.Exec(stmt); err != nil {
					if !isDuplicateColumnError(err) {
						return err
					}
				}
			}
			return nil
		},
	},
}

// initSchema initializes the database schema and runs any pending migrations.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	// Detect a pre-migration database before the base schema creates tables.
	var tableCount int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='mcp_servers'
	`).Scan(&tableCount); err != nil {
		return fmt.Errorf("check mcp_servers table: %w", err)
	}

	if versionErr != nil && tableCount > 0 {
		if err := runMigrations(db, 0); err != nil {
			return err
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if versionErr != nil {
		if versionErr != sql.ErrNoRows && !strings.Contains(versionErr.Error(), "no such table") {
			return fmt.Errorf("get current version: %w", versionErr)
		}
		// Fresh databases and just-migrated ones are both current now.
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
		return nil
	}

	if err := runMigrations(db, currentVersion); err != nil {
		return err
	}
	if _, err := db.Exec("UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("update version to %d: %w", schemaVersion, err)
	}
	return nil
}

func runMigrations(db *sql.DB, from int) error {
	for _, m := range migrations {
		if m.version > from {
			if err := m.up(db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
		}
	}
	return nil
}

// isDuplicateColumnError checks if an error is due to a column already existing.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// SaveServer inserts or replaces a server's launch spec. Status columns and
// the creation time of an existing row are kept.
func (s *SQLiteStore) SaveServer(ctx context.Context, cfg mcp.ServerConfig, enabled bool) error {
	args, err := json.Marshal(nonNilArgs(cfg.Args))
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	env, err := json.Marshal(nonNilEnv(cfg.Env))
	if err != nil {
		return fmt.Errorf("marshal env: %w", err)
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, name, command, args, env, cwd, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			command = excluded.command,
			args = excluded.args,
			env = excluded.env,
			cwd = excluded.cwd,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, cfg.Command, string(args), string(env), nullString(cfg.Cwd), enabled, now, now)
	if err != nil {
		return fmt.Errorf("save server %s: %w", cfg.ID, err)
	}
	return nil
}

const serverColumns = `id, name, command, args, env, cwd, enabled, last_status, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*ServerRecord, error) {
	var rec ServerRecord
	var args, env string
	var cwd, lastStatus, lastError sql.NullString
	if err := row.Scan(&rec.Config.ID, &rec.Config.Name, &rec.Config.Command, &args, &env, &cwd,
		&rec.Enabled, &lastStatus, &lastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &rec.Config.Args); err != nil {
		return nil, fmt.Errorf("decode args of %s: %w", rec.Config.ID, err)
	}
	if err := json.Unmarshal([]byte(env), &rec.Config.Env); err != nil {
		return nil, fmt.Errorf("decode env of %s: %w", rec.Config.ID, err)
	}
	if len(rec.Config.Args) == 0 {
		rec.Config.Args = nil
	}
	if len(rec.Config.Env) == 0 {
		rec.Config.Env = nil
	}
	rec.Config.Cwd = cwd.String
	rec.LastStatus = mcp.ConnectionStatus(lastStatus.String)
	rec.LastError = lastError.String
	return &rec, nil
}

// GetServer returns the persisted server, or ErrNotFound.
func (s *SQLiteStore) GetServer(ctx context.Context, id string) (*ServerRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers WHERE id = ?`, id)
	rec, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan server: %w", err)
	}
	return rec, nil
}

// ListServers returns every persisted server ordered by id.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]ServerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []ServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}
	return out, nil
}

// SetEnabled toggles whether a server is restored on startup.
func (s *SQLiteStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE mcp_servers SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteServer removes a server and its tool snapshot. A miss is not an error.
func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	// Foreign key cascade handles mcp_tools
	if _, err := s.db.ExecContext(ctx, "DELETE FROM mcp_servers WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return nil
}

// RecordStatus stores the last observed status of a persisted server.
// Servers that were never saved are ignored.
func (s *SQLiteStore) RecordStatus(ctx context.Context, id string, status mcp.ConnectionStatus, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mcp_servers SET last_status = ?, last_error = ? WHERE id = ?`,
		string(status), nullString(errText), id)
	if err != nil {
		return fmt.Errorf("record status: %w", err)
	}
	return nil
}

// SaveTools replaces the tool snapshot of a persisted server. Servers that
// were never saved are ignored.
func (s *SQLiteStore) SaveTools(ctx context.Context, id string, tools []mcp.Tool) error {
	if tools == nil {
		tools = []mcp.Tool{}
	}
	data, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_tools (server_id, tools, updated_at)
		SELECT id, ?, ? FROM mcp_servers WHERE id = ?
		ON CONFLICT(server_id) DO UPDATE SET
			tools = excluded.tools,
			updated_at = excluded.updated_at`,
		string(data), time.Now(), id)
	if err != nil {
		return fmt.Errorf("save tools for %s: %w", id, err)
	}
	return nil
}

// LoadTools returns the last tool snapshot of a server, or ErrNotFound.
func (s *SQLiteStore) LoadTools(ctx context.Context, id string) (*ToolSnapshot, error) {
	var data string
	snap := ToolSnapshot{ServerID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT tools, updated_at FROM mcp_tools WHERE server_id = ?`, id).Scan(&data, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tools for %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Tools); err != nil {
		return nil, fmt.Errorf("decode tools of %s: %w", id, err)
	}
	return &snap, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

func nonNilEnv(env map[string]string) map[string]string {
	if env == nil {
		return map[string]string{}
	}
	return env
}
