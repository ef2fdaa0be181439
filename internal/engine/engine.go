// Package engine executes compiled queries against the current index
// snapshot through an embedded DuckDB instance.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/index"
	"github.com/stacdex/stacdex/internal/query"
	"github.com/stacdex/stacdex/internal/source"
)

// Options configures an Engine.
type Options struct {
	// ManifestURI locates the manifest.json of the snapshot to serve.
	ManifestURI string

	// DuckDBThreads sets the engine thread count (0 = engine default).
	DuckDBThreads int

	// S3 configures DuckDB's httpfs when tables live on S3.
	S3 source.S3Config
}

// Snapshot is the engine's view of one committed index snapshot.
type Snapshot struct {
	LoadID       string
	Manifest     *index.Manifest
	TableURIs    map[string]string
	LastModified time.Time
	Queryables   []query.Queryable
	Sortables    []query.Sortable
}

// Fields builds a field resolver scoped to the given collections.
func (s *Snapshot) Fields(collections []string) *query.Fields {
	return query.NewFields(s.Queryables, s.Sortables, collections)
}

// Engine holds a DuckDB root connection and the currently served snapshot.
// Refresh swaps snapshots atomically; queries always run against a
// consistent one.
type Engine struct {
	db      *sql.DB
	sources *source.Registry
	opts    Options

	mu   sync.RWMutex
	snap *Snapshot
}

// New opens the embedded database and attempts an initial snapshot load.
// A missing index is not fatal: the engine starts empty and the watcher
// picks the snapshot up once it is committed.
func New(ctx context.Context, sources *source.Registry, opts Options) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open query engine: %w", err)
	}

	e := &Engine{db: db, sources: sources, opts: opts}
	if err := e.setup(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := e.Refresh(ctx); err != nil {
		if !apperrors.IsKind(err, apperrors.KindMissingIndex) {
			db.Close()
			return nil, err
		}
		log.Printf("engine: no snapshot at %s yet, serving unavailable until one appears", opts.ManifestURI)
	}
	return e, nil
}

// Close releases the embedded database.
func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) setup(ctx context.Context) error {
	stmts := []string{
		"INSTALL spatial",
		"LOAD spatial",
		"INSTALL httpfs",
		"LOAD httpfs",
	}
	if e.opts.DuckDBThreads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", e.opts.DuckDBThreads))
	}
	stmts = append(stmts, s3Settings(e.opts.S3)...)
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("query engine setup failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Snapshot returns the currently served snapshot.
func (e *Engine) Snapshot() (*Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return nil, apperrors.Newf(apperrors.KindMissingIndex,
			"no index snapshot available at %s", e.opts.ManifestURI)
	}
	return e.snap, nil
}

// CurrentSnapshot re-checks the manifest's last-modified time and returns
// the snapshot to serve. The check is one stat/HEAD per call; the snapshot
// is only reloaded when the manifest actually changed. A failed check keeps
// serving the snapshot already loaded.
func (e *Engine) CurrentSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := e.Refresh(ctx); err != nil && !apperrors.IsKind(err, apperrors.KindMissingIndex) {
		log.Printf("engine: snapshot check before query failed: %v", err)
	}
	return e.Snapshot()
}

// Refresh reloads the snapshot if the manifest changed since the last load.
func (e *Engine) Refresh(ctx context.Context) error {
	modified, err := e.sources.LastModified(ctx, e.opts.ManifestURI)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindUriNotFound) {
			return apperrors.Wrap(apperrors.KindMissingIndex,
				fmt.Sprintf("no manifest at %s", e.opts.ManifestURI), err)
		}
		return err
	}

	e.mu.RLock()
	current := e.snap
	e.mu.RUnlock()
	if current != nil && !modified.After(current.LastModified) {
		return nil
	}

	snap, err := e.loadSnapshot(ctx, modified)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
	log.Printf("engine: now serving snapshot %s", snap.LoadID)
	return nil
}

// Watch polls the manifest until the context is cancelled.
func (e *Engine) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil && !apperrors.IsKind(err, apperrors.KindMissingIndex) {
				log.Printf("engine: snapshot refresh failed: %v", err)
			}
		}
	}
}

func (e *Engine) loadSnapshot(ctx context.Context, modified time.Time) (*Snapshot, error) {
	manifest, err := index.ReadManifest(ctx, e.sources, e.opts.ManifestURI)
	if err != nil {
		return nil, err
	}
	uris := manifest.TableURIs(e.opts.ManifestURI)
	for _, table := range index.TableNames {
		if _, ok := uris[table]; !ok {
			return nil, apperrors.Newf(apperrors.KindMissingIndex,
				"manifest %s has no %s table", e.opts.ManifestURI, table)
		}
	}

	queryables, err := e.loadQueryables(ctx, uris["queryables_by_collection"])
	if err != nil {
		return nil, err
	}
	sortables, err := e.loadSortables(ctx, uris["sortables_by_collection"])
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		LoadID:       manifest.LoadID,
		Manifest:     manifest,
		TableURIs:    uris,
		LastModified: modified,
		Queryables:   queryables,
		Sortables:    sortables,
	}, nil
}

func (e *Engine) loadQueryables(ctx context.Context, uri string) ([]query.Queryable, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name, collection_id, coalesce(description, ''), coalesce(json_schema, ''), items_column, items_column_type, is_geometry, is_temporal
		 FROM %s ORDER BY name, collection_id`, readParquet(uri)))
	if err != nil {
		return nil, fmt.Errorf("failed to load queryables: %w", err)
	}
	defer rows.Close()

	var out []query.Queryable
	for rows.Next() {
		var q query.Queryable
		if err := rows.Scan(&q.Name, &q.CollectionID, &q.Description, &q.JSONSchema,
			&q.Column, &q.ColumnType, &q.IsGeometry, &q.IsTemporal); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (e *Engine) loadSortables(ctx context.Context, uri string) ([]query.Sortable, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name, collection_id, coalesce(description, ''), items_column
		 FROM %s ORDER BY name, collection_id`, readParquet(uri)))
	if err != nil {
		return nil, fmt.Errorf("failed to load sortables: %w", err)
	}
	defer rows.Close()

	var out []query.Sortable
	for rows.Next() {
		var s query.Sortable
		if err := rows.Scan(&s.Name, &s.CollectionID, &s.Description, &s.Column); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ItemRow is one search result row; the item body lives at StacLocation.
type ItemRow struct {
	ID           string
	CollectionID string
	StacLocation string
	AppliedFixes string
}

// Execute runs a compiled query against the snapshot it was compiled for.
// It requests one row beyond the page to detect a following page.
func (e *Engine) Execute(ctx context.Context, snap *Snapshot, qi query.QueryInfo) ([]ItemRow, bool, error) {
	if qi.LoadID != snap.LoadID {
		return nil, false, apperrors.NewSnapshotConflict(qi.LoadID, snap.LoadID)
	}
	if err := checkParams(qi.Params); err != nil {
		return nil, false, err
	}

	sqlText := strings.ReplaceAll(qi.SQL, query.ItemsTable, readParquet(snap.TableURIs["items"]))
	sqlText += fmt.Sprintf(" LIMIT %d OFFSET %d", qi.Limit+1, qi.Offset)

	rows, err := e.db.QueryContext(ctx, sqlText, qi.Params...)
	if err != nil {
		return nil, false, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		var r ItemRow
		if err := rows.Scan(&r.ID, &r.CollectionID, &r.StacLocation, &r.AppliedFixes); err != nil {
			return nil, false, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > qi.Limit
	if hasMore {
		out = out[:qi.Limit]
	}
	return out, hasMore, nil
}

// CollectionRow is one row of the collections table.
type CollectionRow struct {
	ID           string
	StacLocation string
}

// Collections lists the snapshot's collections in id order.
func (e *Engine) Collections(ctx context.Context, snap *Snapshot) ([]CollectionRow, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, stac_location FROM %s ORDER BY id", readParquet(snap.TableURIs["collections"])))
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionRow
	for rows.Next() {
		var c CollectionRow
		if err := rows.Scan(&c.ID, &c.StacLocation); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Collection resolves one collection by id.
func (e *Engine) Collection(ctx context.Context, snap *Snapshot, id string) (CollectionRow, error) {
	var c CollectionRow
	err := e.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT id, stac_location FROM %s WHERE id = ?", readParquet(snap.TableURIs["collections"])),
		id).Scan(&c.ID, &c.StacLocation)
	if err == sql.ErrNoRows {
		return CollectionRow{}, apperrors.Newf(apperrors.KindUriNotFound,
			"collection %q is not in the current index", id)
	}
	if err != nil {
		return CollectionRow{}, err
	}
	return c, nil
}

// ErrorRow is one row of the errors table.
type ErrorRow struct {
	Time          time.Time `json:"time"`
	ErrorType     string    `json:"error_type"`
	Subtype       string    `json:"subtype,omitempty"`
	InputLocation string    `json:"input_location,omitempty"`
	Description   string    `json:"description,omitempty"`
	PossibleFixes string    `json:"possible_fixes,omitempty"`
	Collection    string    `json:"collection,omitempty"`
	Item          string    `json:"item,omitempty"`
}

// Errors lists the snapshot's indexing errors, newest first, optionally
// restricted to one collection.
func (e *Engine) Errors(ctx context.Context, snap *Snapshot, collection string, limit int) ([]ErrorRow, error) {
	if limit <= 0 {
		limit = 100
	}
	where := ""
	var args []interface{}
	if collection != "" {
		where = " WHERE collection = ?"
		args = append(args, collection)
	}
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT time, error_type, coalesce(subtype, ''), coalesce(input_location, ''),
		        coalesce(description, ''), coalesce(possible_fixes, ''), coalesce(collection, ''), coalesce(item, '')
		 FROM %s%s ORDER BY time DESC LIMIT %d`, readParquet(snap.TableURIs["errors"]), where, limit), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorRow
	for rows.Next() {
		var r ErrorRow
		if err := rows.Scan(&r.Time, &r.ErrorType, &r.Subtype, &r.InputLocation,
			&r.Description, &r.PossibleFixes, &r.Collection, &r.Item); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// checkParams rejects parameter types that do not survive the token's JSON
// round trip. Compiled queries only ever bind these.
func checkParams(params []interface{}) error {
	for _, p := range params {
		switch p.(type) {
		case nil, string, float64, bool, int, int64:
		default:
			return apperrors.Newf(apperrors.KindInvalidToken,
				"query parameter of type %T is not allowed", p)
		}
	}
	return nil
}

// readParquet renders a read_parquet source for a table URI.
func readParquet(uri string) string {
	return fmt.Sprintf("read_parquet('%s')", sqlString(parquetTarget(uri)))
}

func parquetTarget(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func sqlString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// s3Settings renders the DuckDB httpfs settings for an S3 configuration.
func s3Settings(cfg source.S3Config) []string {
	var stmts []string
	if cfg.Region != "" {
		stmts = append(stmts, fmt.Sprintf("SET s3_region = '%s'", sqlString(cfg.Region)))
	}
	if cfg.Endpoint != "" {
		stmts = append(stmts, fmt.Sprintf("SET s3_endpoint = '%s'", sqlString(cfg.Endpoint)))
	}
	if cfg.UsePathStyle {
		stmts = append(stmts, "SET s3_url_style = 'path'")
	}
	return stmts
}
