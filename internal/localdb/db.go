// Package localdb provides a SQLite-backed resource source. Resources are
// kept as flat JSON documents keyed by (type, id); every write bumps a global
// revision so callers can ask for changes since a revision.
package localdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kilupskalvis/recordfetch/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

const currentSchemaVersion = 2

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB is a resource database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and brings its
// schema up to date. Use ":memory:" for a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	d := &DB{db: db}
	if err := d.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := d.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		type TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSON NOT NULL,
		revision INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (type, id)
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE IF NOT EXISTS localdb_schema_version (
		version INTEGER PRIMARY KEY
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (d *DB) schemaVersion() (int, error) {
	var version int
	if err := d.db.QueryRow("SELECT COALESCE(MAX(version), 1) FROM localdb_schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// runMigrations applies pending schema migrations
func (d *DB) runMigrations() error {
	version, err := d.schemaVersion()
	if err != nil {
		return err
	}

	if version < 2 {
		if _, err := d.db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_resources_revision ON resources(type, revision);
			INSERT OR IGNORE INTO localdb_schema_version (version) VALUES (2);
		`); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}
	return nil
}

// Revision returns the latest revision written.
func (d *DB) Revision(ctx context.Context) (int64, error) {
	var raw sql.NullString
	err := d.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = 'revision'").Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !raw.Valid {
		return 0, nil
	}
	return strconv.ParseInt(raw.String, 10, 64)
}

// Put stores a resource, replacing any previous version. Attributes and
// relationships are flattened into one document.
func (d *DB) Put(ctx context.Context, res *models.Resource) error {
	return d.PutMany(ctx, []*models.Resource{res})
}

// PutMany stores resources in one transaction under a single new revision.
func (d *DB) PutMany(ctx context.Context, resources []*models.Resource) error {
	if len(resources) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO kv (key, value) VALUES ('revision', '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1
		RETURNING CAST(value AS INTEGER)
	`).Scan(&rev); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}

	for _, res := range resources {
		if res.Type == "" || res.ID == "" {
			return fmt.Errorf("resource must have a type and an id")
		}
		data, err := json.Marshal(flatten(res))
		if err != nil {
			return fmt.Errorf("encode %s: %w", res.Key(), err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resources (type, id, data, revision, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(type, id) DO UPDATE SET data = excluded.data, revision = excluded.revision, updated_at = excluded.updated_at
		`, res.Type, res.ID, string(data), rev); err != nil {
			return fmt.Errorf("store %s: %w", res.Key(), err)
		}
	}
	return tx.Commit()
}

// Delete removes a resource.
func (d *DB) Delete(ctx context.Context, typeName, id string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM resources WHERE type = ? AND id = ?", typeName, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", typeName, id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", typeName, id, ErrNotFound)
	}
	return nil
}

// Get returns one document.
func (d *DB) Get(ctx context.Context, typeName, id string) (map[string]interface{}, error) {
	var data string
	err := d.db.QueryRowContext(ctx, "SELECT data FROM resources WHERE type = ? AND id = ?", typeName, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", typeName, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", typeName, id, err)
	}
	return decodeDoc(data)
}

// GetMany returns the documents for ids in the order given, skipping ids
// that do not exist.
func (d *DB) GetMany(ctx context.Context, typeName string, ids []string) ([]map[string]interface{}, error) {
	if len(ids) == 0 {
		return []map[string]interface{}{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, typeName)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT id, data FROM resources WHERE type = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get many %s: %w", typeName, err)
	}
	defer rows.Close()

	byID := make(map[string]map[string]interface{}, len(ids))
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(data)
		if err != nil {
			return nil, err
		}
		byID[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0, len(byID))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// List returns documents of a type written after sinceRevision, ordered by
// id, and the current revision.
func (d *DB) List(ctx context.Context, typeName string, sinceRevision int64) ([]map[string]interface{}, int64, error) {
	rev, err := d.Revision(ctx)
	if err != nil {
		return nil, 0, err
	}
	docs, err := d.query(ctx,
		"SELECT data FROM resources WHERE type = ? AND revision > ? ORDER BY id", typeName, sinceRevision)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", typeName, err)
	}
	return docs, rev, nil
}

// Query returns documents of a type whose top-level fields equal the given
// values. Values are compared as text.
func (d *DB) Query(ctx context.Context, typeName string, filter map[string]interface{}) ([]map[string]interface{}, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !fieldName.MatchString(k) {
			return nil, fmt.Errorf("invalid query field %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stmt := "SELECT data FROM resources WHERE type = ?"
	args := []interface{}{typeName}
	for _, k := range keys {
		if k == "id" {
			stmt += " AND id = ?"
		} else {
			stmt += " AND CAST(json_extract(data, ?) AS TEXT) = ?"
			args = append(args, "$."+k)
		}
		args = append(args, textValue(filter[k]))
	}
	stmt += " ORDER BY id"

	docs, err := d.query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", typeName, err)
	}
	return docs, nil
}

// textValue renders v the way CAST(json_extract(...) AS TEXT) renders the
// stored JSON value.
func textValue(v interface{}) string {
	switch b := v.(type) {
	case bool:
		if b {
			return "1"
		}
		return "0"
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Count returns the number of stored resources per type.
func (d *DB) Count(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM resources GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typeName string
		var n int
		if err := rows.Scan(&typeName, &n); err != nil {
			return nil, err
		}
		counts[typeName] = n
	}
	return counts, rows.Err()
}

func (d *DB) query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []map[string]interface{}{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Import loads a fixture document of the form {"<type or plural>": [...]}.
// Each element must carry an id; the registry resolves plural keys and
// splits relationships out. It returns the number of resources stored.
func (d *DB) Import(ctx context.Context, r io.Reader, registry *models.Registry) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string][]map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode fixtures: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var resources []*models.Resource
	for _, key := range keys {
		tc := typeForKey(registry, key)
		for i, item := range doc[key] {
			res, err := toResource(tc, item)
			if err != nil {
				return 0, fmt.Errorf("fixture %s[%d]: %w", key, i, err)
			}
			resources = append(resources, res)
		}
	}
	if err := d.PutMany(ctx, resources); err != nil {
		return 0, err
	}
	return len(resources), nil
}

func typeForKey(registry *models.Registry, key string) *models.TypeClass {
	if registry != nil {
		for _, name := range registry.Names() {
			tc := registry.ForName(name)
			if key == tc.Name || key == tc.PluralName() {
				return tc
			}
		}
	}
	return &models.TypeClass{Name: key}
}

func toResource(tc *models.TypeClass, item map[string]interface{}) (*models.Resource, error) {
	id := ""
	switch v := item["id"].(type) {
	case string:
		id = v
	case json.Number:
		id = v.String()
	}
	if id == "" {
		return nil, fmt.Errorf("missing id")
	}

	res := &models.Resource{
		ID:            id,
		Type:          tc.Name,
		Attributes:    make(map[string]interface{}),
		Relationships: make(map[string]interface{}),
	}
	for k, v := range item {
		switch {
		case k == "id" || k == "type":
		case tc.HasRelationship(k):
			res.Relationships[k] = v
		default:
			res.Attributes[k] = v
		}
	}
	return res, nil
}

func flatten(res *models.Resource) map[string]interface{} {
	doc := make(map[string]interface{}, len(res.Attributes)+len(res.Relationships)+2)
	for k, v := range res.Attributes {
		doc[k] = v
	}
	for k, v := range res.Relationships {
		doc[k] = v
	}
	doc["id"] = res.ID
	doc["type"] = res.Type
	return doc
}

func decodeDoc(data string) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	return doc, nil
}
