package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the durable Store implementation. AUTOINCREMENT row ids
// give the same identity guarantees as MemStore (monotonic, never reused)
// across restarts, and category counts are recomputed inside the same
// transaction as the mutation that invalidated them.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database.
func Open(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "memobank.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies any embedded SQL migrations that haven't been run yet.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied schema versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) ListCategories() ([]Category, error) {
	rows, err := s.db.Query("SELECT id, name, icon, color, count FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.Color, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCategory(id int64) (Category, error) {
	return s.scanCategory(s.db.QueryRow(
		"SELECT id, name, icon, color, count FROM categories WHERE id = ?", id))
}

func (s *SQLiteStore) GetCategoryByName(name string) (Category, error) {
	return s.scanCategory(s.db.QueryRow(
		"SELECT id, name, icon, color, count FROM categories WHERE name = ? ORDER BY id LIMIT 1", name))
}

func (s *SQLiteStore) scanCategory(row *sql.Row) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.Icon, &c.Color, &c.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return Category{}, ErrNotFound
	}
	if err != nil {
		return Category{}, fmt.Errorf("scanning category: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateCategory(name, icon, color string) (Category, error) {
	res, err := s.db.Exec(
		"INSERT INTO categories (name, icon, color, count) VALUES (?, ?, ?, 0)",
		name, icon, color)
	if err != nil {
		return Category{}, fmt.Errorf("inserting category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Category{}, fmt.Errorf("reading category id: %w", err)
	}
	return Category{ID: id, Name: name, Icon: icon, Color: color}, nil
}

func (s *SQLiteStore) SetCategoryCount(id, count int64) error {
	if _, err := s.db.Exec("UPDATE categories SET count = ? WHERE id = ?", count, id); err != nil {
		return fmt.Errorf("updating category count: %w", err)
	}
	return nil
}

const memoryColumns = "id, content, title, category_id, tags, keywords, structured_data, ai_score, created_at, updated_at"

func (s *SQLiteStore) ListMemories() ([]Memory, error) {
	return s.queryMemories("SELECT " + memoryColumns + " FROM memories ORDER BY created_at DESC, id ASC")
}

func (s *SQLiteStore) ListMemoriesByCategory(categoryID int64) ([]Memory, error) {
	return s.queryMemories(
		"SELECT "+memoryColumns+" FROM memories WHERE category_id = ? ORDER BY created_at DESC, id ASC",
		categoryID)
}

func (s *SQLiteStore) queryMemories(query string, args ...any) ([]Memory, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMemory(id int64) (Memory, error) {
	row := s.db.QueryRow("SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, err
	}
	return m, nil
}

func (s *SQLiteStore) CreateMemory(nm NewMemory) (Memory, error) {
	now := time.Now().UTC()
	m := Memory{
		Content:        nm.Content,
		Title:          nm.Title,
		CategoryID:     nm.CategoryID,
		Tags:           nm.Tags,
		Keywords:       nm.Keywords,
		StructuredData: nm.StructuredData,
		AIScore:        clampScore(nm.AIScore),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Keywords == nil {
		m.Keywords = []string{}
	}
	if m.StructuredData == nil {
		m.StructuredData = map[string]any{}
	}

	tags, keywords, structured, err := marshalMemoryJSON(m)
	if err != nil {
		return Memory{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Memory{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO memories (content, title, category_id, tags, keywords, structured_data, ai_score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Content, m.Title, nullableID(m.CategoryID), tags, keywords, structured,
		m.AIScore, formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return Memory{}, fmt.Errorf("inserting memory: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return Memory{}, fmt.Errorf("reading memory id: %w", err)
	}

	if m.CategoryID != nil {
		if err := recountCategoryTx(tx, *m.CategoryID); err != nil {
			return Memory{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Memory{}, fmt.Errorf("committing memory: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) UpdateMemory(id int64, patch MemoryPatch) (Memory, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Memory{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, err
	}

	oldCategory := m.CategoryID
	applyPatch(&m, patch)
	m.UpdatedAt = time.Now().UTC()

	tags, keywords, structured, err := marshalMemoryJSON(m)
	if err != nil {
		return Memory{}, err
	}

	if _, err := tx.Exec(
		`UPDATE memories SET content = ?, title = ?, category_id = ?, tags = ?, keywords = ?,
		 structured_data = ?, ai_score = ?, updated_at = ? WHERE id = ?`,
		m.Content, m.Title, nullableID(m.CategoryID), tags, keywords, structured,
		m.AIScore, formatTime(m.UpdatedAt), id); err != nil {
		return Memory{}, fmt.Errorf("updating memory: %w", err)
	}

	if !sameCategory(oldCategory, m.CategoryID) {
		if oldCategory != nil {
			if err := recountCategoryTx(tx, *oldCategory); err != nil {
				return Memory{}, err
			}
		}
		if m.CategoryID != nil {
			if err := recountCategoryTx(tx, *m.CategoryID); err != nil {
				return Memory{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return Memory{}, fmt.Errorf("committing update: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) DeleteMemory(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var categoryID sql.NullInt64
	err = tx.QueryRow("SELECT category_id FROM memories WHERE id = ?", id).Scan(&categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading memory: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	if categoryID.Valid {
		if err := recountCategoryTx(tx, categoryID.Int64); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// SearchMemoriesLocal filters in Go rather than SQL: the keyword and tag
// columns hold JSON arrays, and a LIKE over serialized JSON would match
// the punctuation too.
func (s *SQLiteStore) SearchMemoriesLocal(query string) ([]Memory, error) {
	all, err := s.ListMemories()
	if err != nil {
		return nil, err
	}
	out := make([]Memory, 0, len(all))
	for _, m := range all {
		if m.MatchesQuery(query) {
			out = append(out, m)
		}
	}
	return out, nil
}

func recountCategoryTx(tx *sql.Tx, categoryID int64) error {
	if _, err := tx.Exec(
		`UPDATE categories SET count = (SELECT COUNT(*) FROM memories WHERE category_id = ?) WHERE id = ?`,
		categoryID, categoryID); err != nil {
		return fmt.Errorf("recounting category %d: %w", categoryID, err)
	}
	return nil
}

func scanMemory(scan func(...any) error) (Memory, error) {
	var (
		m          Memory
		categoryID sql.NullInt64
		tags       string
		keywords   string
		structured string
		createdAt  string
		updatedAt  string
	)
	if err := scan(&m.ID, &m.Content, &m.Title, &categoryID, &tags, &keywords,
		&structured, &m.AIScore, &createdAt, &updatedAt); err != nil {
		return Memory{}, err
	}
	if categoryID.Valid {
		id := categoryID.Int64
		m.CategoryID = &id
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return Memory{}, fmt.Errorf("parsing tags for memory %d: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(keywords), &m.Keywords); err != nil {
		return Memory{}, fmt.Errorf("parsing keywords for memory %d: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(structured), &m.StructuredData); err != nil {
		return Memory{}, fmt.Errorf("parsing structured data for memory %d: %w", m.ID, err)
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Keywords == nil {
		m.Keywords = []string{}
	}
	if m.StructuredData == nil {
		m.StructuredData = map[string]any{}
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Memory{}, fmt.Errorf("parsing created_at for memory %d: %w", m.ID, err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Memory{}, fmt.Errorf("parsing updated_at for memory %d: %w", m.ID, err)
	}
	return m, nil
}

func marshalMemoryJSON(m Memory) (tags, keywords, structured string, err error) {
	b, err := json.Marshal(m.Tags)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling tags: %w", err)
	}
	tags = string(b)
	b, err = json.Marshal(m.Keywords)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling keywords: %w", err)
	}
	keywords = string(b)
	b, err = json.Marshal(m.StructuredData)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling structured data: %w", err)
	}
	structured = string(b)
	return tags, keywords, structured, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// timeLayout is RFC3339 with a fixed-width fraction so that the TEXT
// column sorts lexicographically in time order (RFC3339Nano trims
// trailing zeros and doesn't).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s) // accepts timeLayout output
}
