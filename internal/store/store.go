// Package store provides the relational memory store backing the operation
// engine. Records live in a single SQLite table with JSON-serialized
// embedding, tag, facet and lineage columns, so test-fixture SQL scripts can
// seed it directly.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"text2mem/internal/logging"
)

// MemoryStore is a SQLite-backed store for memory records.
type MemoryStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	path      string
	vectorExt bool
	now       func() time.Time
}

// Open initializes the store at the given path. Use ":memory:" for an
// in-memory store.
func Open(path string) (*MemoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening MemoryStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	s := &MemoryStore{db: db, path: path, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; using in-process cosine scan")
	}

	return s, nil
}

// OpenInMemory opens a fresh in-memory store.
func OpenInMemory() (*MemoryStore, error) {
	return Open(":memory:")
}

// initialize creates the memory table and its indexes.
func (s *MemoryStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'generic',
		subject TEXT,
		time TEXT,
		location TEXT,
		topic TEXT,
		facets TEXT,
		tags TEXT,
		weight REAL NOT NULL DEFAULT 0.5,
		embedding TEXT,
		embedding_dim INTEGER,
		embedding_model TEXT,
		embedding_provider TEXT,
		source TEXT,
		auto_frequency TEXT,
		next_auto_update_at TEXT,
		expire_at TEXT,
		expire_action TEXT,
		expire_reason TEXT,
		lock_reason TEXT,
		lock_policy TEXT,
		lock_expires TEXT,
		read_perm_level TEXT NOT NULL DEFAULT 'default',
		write_perm_level TEXT NOT NULL DEFAULT 'default',
		read_whitelist TEXT,
		read_blacklist TEXT,
		write_whitelist TEXT,
		write_blacklist TEXT,
		lineage_parents TEXT,
		lineage_children TEXT,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT,
		updated_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(type);
	CREATE INDEX IF NOT EXISTS idx_memory_deleted ON memory(deleted);
	CREATE INDEX IF NOT EXISTS idx_memory_expire_at ON memory(expire_at);
	CREATE INDEX IF NOT EXISTS idx_memory_subject ON memory(subject);
	CREATE INDEX IF NOT EXISTS idx_memory_topic ON memory(topic);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SetNowFunc injects the time source. The evaluator passes a virtual clock
// so expire handling is deterministic.
func (s *MemoryStore) SetNowFunc(f func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f != nil {
		s.now = f
	}
}

// Now returns the store's current time.
func (s *MemoryStore) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Close closes the database connection.
func (s *MemoryStore) Close() error {
	logging.Store("Closing MemoryStore database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *MemoryStore) DB() *sql.DB {
	return s.db
}

// Path returns the database path.
func (s *MemoryStore) Path() string {
	return s.path
}

// Insert adds one row and returns its id. Timestamps are taken from the
// store clock; weight is clamped to [0,1].
func (s *MemoryStore) Insert(rec *MemoryRecord) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Insert")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Type == "" {
		rec.Type = "generic"
	}
	if !ValidTypes[rec.Type] {
		return 0, fmt.Errorf("invalid memory type: %s", rec.Type)
	}
	rec.Weight = clampWeight(rec.Weight)
	if len(rec.Embedding) > 0 {
		rec.EmbeddingDim = len(rec.Embedding)
		if rec.EmbeddingModel == "" || rec.EmbeddingProvider == "" {
			return 0, fmt.Errorf("embedding requires model and provider")
		}
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	if rec.CreatedAt == "" {
		rec.CreatedAt = nowStr
	}
	rec.UpdatedAt = nowStr
	if rec.ReadPermLevel == "" {
		rec.ReadPermLevel = "default"
	}
	if rec.WritePermLevel == "" {
		rec.WritePermLevel = "default"
	}

	facets, err := encodeJSON(rec.Facets)
	if err != nil {
		return 0, err
	}
	tags, err := encodeJSON(rec.Tags)
	if err != nil {
		return 0, err
	}
	embedding, err := encodeJSON(rec.Embedding)
	if err != nil {
		return 0, err
	}
	readWL, _ := encodeJSON(rec.ReadWhitelist)
	readBL, _ := encodeJSON(rec.ReadBlacklist)
	writeWL, _ := encodeJSON(rec.WriteWhitelist)
	writeBL, _ := encodeJSON(rec.WriteBlacklist)
	parents, _ := encodeJSON(rec.LineageParents)
	children, _ := encodeJSON(rec.LineageChildren)

	var embDim any
	if rec.EmbeddingDim > 0 {
		embDim = rec.EmbeddingDim
	}

	res, err := s.db.Exec(`INSERT INTO memory (
		text, type, subject, time, location, topic, facets, tags, weight,
		embedding, embedding_dim, embedding_model, embedding_provider,
		source, auto_frequency, next_auto_update_at,
		expire_at, expire_action, expire_reason,
		lock_reason, lock_policy, lock_expires,
		read_perm_level, write_perm_level,
		read_whitelist, read_blacklist, write_whitelist, write_blacklist,
		lineage_parents, lineage_children,
		deleted, created_at, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.Text, rec.Type,
		nullIfEmpty(rec.Subject), nullIfEmpty(rec.Time), nullIfEmpty(rec.Location), nullIfEmpty(rec.Topic),
		facets, tags, rec.Weight,
		embedding, embDim, nullIfEmpty(rec.EmbeddingModel), nullIfEmpty(rec.EmbeddingProvider),
		nullIfEmpty(rec.Source), nullIfEmpty(rec.AutoFrequency), nullIfEmpty(rec.NextAutoUpdateAt),
		nullIfEmpty(rec.ExpireAt), nullIfEmpty(rec.ExpireAction), nullIfEmpty(rec.ExpireReason),
		nullIfEmpty(rec.LockReason), nullIfEmpty(rec.LockPolicy), nullIfEmpty(rec.LockExpires),
		rec.ReadPermLevel, rec.WritePermLevel,
		readWL, readBL, writeWL, writeBL,
		parents, children,
		boolToInt(rec.Deleted), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	rec.ID = id
	logging.StoreDebug("Inserted record id=%d type=%s", id, rec.Type)
	return id, nil
}

// Get returns the row with the given id, including soft-deleted rows.
func (s *MemoryStore) Get(id int64) (*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+recordColumns+" FROM memory WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	return rec, nil
}

// SelectWhere returns rows matching the condition. The condition is appended
// after WHERE; callers add deleted filters themselves.
func (s *MemoryStore) SelectWhere(cond string, args ...any) ([]*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + recordColumns + " FROM memory"
	if cond != "" {
		query += " WHERE " + cond
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// writableColumns lists the scalar columns UpdateFields may touch. The
// embedding triple is deliberately excluded: embeddings change only through
// the engine's own encode/merge paths.
var writableColumns = map[string]bool{
	"text": true, "type": true, "subject": true, "time": true,
	"location": true, "topic": true, "facets": true, "tags": true,
	"weight": true, "source": true, "auto_frequency": true,
	"next_auto_update_at": true, "expire_at": true, "expire_action": true,
	"expire_reason": true, "lock_reason": true, "lock_policy": true,
	"lock_expires": true, "read_perm_level": true, "write_perm_level": true,
	"read_whitelist": true, "read_blacklist": true,
	"write_whitelist": true, "write_blacklist": true,
	"lineage_parents": true, "lineage_children": true, "deleted": true,
}

// UpdateFields writes the given columns on one row. List and map values are
// JSON-encoded; weight is clamped; updated_at is bumped.
func (s *MemoryStore) UpdateFields(id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)

	for col, val := range fields {
		if !writableColumns[col] {
			return fmt.Errorf("column %s is not writable", col)
		}
		switch v := val.(type) {
		case []string, []int64, []float32, map[string]any:
			encoded, err := encodeJSON(v)
			if err != nil {
				return err
			}
			val = encoded
		case float64:
			if col == "weight" {
				val = clampWeight(v)
			}
		case bool:
			val = boolToInt(v)
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, s.now().UTC().Format(time.RFC3339))
	args = append(args, id)

	res, err := s.db.Exec("UPDATE memory SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %d not found", id)
	}
	return nil
}

// SetEmbedding writes the embedding triple on one row. This is the only
// path that touches the embedding columns after insert.
func (s *MemoryStore) SetEmbedding(id int64, vector []float32, model, providerTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encodeJSON(vector)
	if err != nil {
		return err
	}

	var dim any
	if len(vector) > 0 {
		dim = len(vector)
	}
	_, err = s.db.Exec(
		"UPDATE memory SET embedding = ?, embedding_dim = ?, embedding_model = ?, embedding_provider = ?, updated_at = ? WHERE id = ?",
		encoded, dim, nullIfEmpty(model), nullIfEmpty(providerTag),
		s.now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set embedding on record %d: %w", id, err)
	}
	return nil
}

// SoftDelete marks rows deleted. Returns the number of rows affected.
func (s *MemoryStore) SoftDelete(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE memory SET deleted = 1, updated_at = ? WHERE id IN ("+placeholders(len(ids))+") AND deleted = 0",
		append([]any{s.now().UTC().Format(time.RFC3339)}, int64Args(ids)...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete records: %w", err)
	}
	return res.RowsAffected()
}

// HardDelete removes rows entirely. Returns the number of rows affected.
func (s *MemoryStore) HardDelete(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM memory WHERE id IN ("+placeholders(len(ids))+")",
		int64Args(ids)...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to hard-delete records: %w", err)
	}
	return res.RowsAffected()
}

// AppendLineageChildren records split children on the parent row.
func (s *MemoryStore) AppendLineageChildren(parentID int64, childIDs []int64) error {
	parent, err := s.Get(parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("record %d not found", parentID)
	}

	children := append(append([]int64{}, parent.LineageChildren...), childIDs...)
	return s.UpdateFields(parentID, map[string]any{"lineage_children": children})
}

// CountWhere counts rows matching a condition.
func (s *MemoryStore) CountWhere(cond string, args ...any) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT COUNT(*) FROM memory"
	if cond != "" {
		query += " WHERE " + cond
	}
	var n int64
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Stats returns row counts by state.
func (s *MemoryStore) Stats() (map[string]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Stats")
	defer timer.Stop()

	stats := make(map[string]int64)
	queries := map[string]string{
		"total":     "",
		"active":    "deleted = 0",
		"deleted":   "deleted = 1",
		"embedded":  "embedding IS NOT NULL",
		"expiring":  "expire_at IS NOT NULL AND deleted = 0",
		"locked":    "read_perm_level LIKE 'locked%' AND deleted = 0",
	}
	for name, cond := range queries {
		n, err := s.CountWhere(cond)
		if err != nil {
			return nil, err
		}
		stats[name] = n
	}
	return stats, nil
}

// ExecScript runs a SQL script, used for init_db snapshots.
func (s *MemoryStore) ExecScript(script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(script); err != nil {
		return fmt.Errorf("failed to execute SQL script: %w", err)
	}
	return nil
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
