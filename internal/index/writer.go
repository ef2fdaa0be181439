package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/source"
	"github.com/stacdex/stacdex/internal/stac"
)

// snapshotStampLayout renders the snapshot directory timestamp. Dots stand
// in for colons so the name stays a valid object key everywhere.
const snapshotStampLayout = "2006-01-02T15.04.05.000000Z"

// WriterOptions configures an indexing run.
type WriterOptions struct {
	// OutputBaseURI is the directory URI under which the snapshot
	// directory is created.
	OutputBaseURI string

	// RootCatalogURI is recorded in the manifest and load history.
	RootCatalogURI string

	// PreviousManifestURI, when set, attaches the previous snapshot's
	// items and collections tables as *_previous views for diffing.
	PreviousManifestURI string

	// DuckDBThreads sets the engine thread count (0 = engine default).
	DuckDBThreads int

	// S3 configures DuckDB's httpfs when the output URI is on S3.
	S3 source.S3Config
}

// Writer ingests crawled records into a DuckDB working set and exports the
// snapshot. It implements crawler.Ingestor; the crawler serialises all
// callback invocations.
type Writer struct {
	db      *sql.DB
	sources *source.Registry
	cfg     *Config
	opts    WriterOptions

	loadID      string
	snapshotURI string
	startTime   time.Time

	// indexableNames fixes a deterministic column order.
	indexableNames []string
	insertItemSQL  string

	collectionCount int64
	itemCount       int64
	invalidCount    int64
	duplicateCount  int64
	errorCount      int64
}

// NewWriter opens the working set, creates the schema, and prepares the
// snapshot location. The snapshot is invisible until Finish writes the
// manifest.
func NewWriter(ctx context.Context, sources *source.Registry, cfg *Config, opts WriterOptions) (*Writer, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open working set: %w", err)
	}

	w := &Writer{
		db:        db,
		sources:   sources,
		cfg:       cfg,
		opts:      opts,
		startTime: time.Now().UTC(),
	}
	w.loadID = w.startTime.Format(snapshotStampLayout) + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")
	w.snapshotURI = source.JoinURI(opts.OutputBaseURI, w.loadID)

	if err := w.setup(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// LoadID returns the identity of the snapshot under construction.
func (w *Writer) LoadID() string {
	return w.loadID
}

// Close releases the working set without committing.
func (w *Writer) Close() error {
	return w.db.Close()
}

func (w *Writer) setup(ctx context.Context) error {
	stmts := []string{
		"INSTALL spatial",
		"LOAD spatial",
		"INSTALL httpfs",
		"LOAD httpfs",
	}
	if w.opts.DuckDBThreads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", w.opts.DuckDBThreads))
	}
	stmts = append(stmts, s3Settings(w.opts.S3)...)
	stmts = append(stmts, schemaDDL...)
	for _, stmt := range stmts {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("working set setup failed on %q: %w", stmt, err)
		}
	}

	for name := range w.cfg.Indexables {
		w.indexableNames = append(w.indexableNames, name)
	}
	sort.Strings(w.indexableNames)
	for _, name := range w.indexableNames {
		ddl := fmt.Sprintf(`ALTER TABLE items ADD COLUMN %s %s`,
			quoteIdent(w.cfg.ColumnName(name)), w.cfg.Indexables[name].StorageType)
		if _, err := w.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to add indexable column %s: %w", name, err)
		}
	}
	w.insertItemSQL = w.buildInsertItemSQL()

	if w.opts.PreviousManifestURI != "" {
		if err := w.attachPrevious(ctx); err != nil {
			return err
		}
	}
	return nil
}

// attachPrevious exposes the previous snapshot's items and collections as
// *_previous views so an update run can diff against them.
func (w *Writer) attachPrevious(ctx context.Context) error {
	prev, err := ReadManifest(ctx, w.sources, w.opts.PreviousManifestURI)
	if err != nil {
		return err
	}
	uris := prev.TableURIs(w.opts.PreviousManifestURI)
	for _, table := range []string{"items", "collections"} {
		uri, ok := uris[table]
		if !ok {
			return errors.Newf(errors.KindMissingIndex,
				"previous manifest %s has no %s table", w.opts.PreviousManifestURI, table)
		}
		stmt := fmt.Sprintf(`CREATE VIEW %s_previous AS SELECT * FROM read_parquet('%s')`,
			table, sqlString(parquetTarget(uri)))
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to attach previous %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) buildInsertItemSQL() string {
	columns := make([]string, 0, len(itemBaseColumns)+len(w.indexableNames))
	placeholders := make([]string, 0, cap(columns))
	for _, col := range itemBaseColumns {
		columns = append(columns, col)
		if col == "geometry" {
			placeholders = append(placeholders, "ST_GeomFromHEXWKB(?)")
		} else {
			placeholders = append(placeholders, "?")
		}
	}
	for _, name := range w.indexableNames {
		columns = append(columns, quoteIdent(w.cfg.ColumnName(name)))
		placeholders = append(placeholders, "?")
	}
	return fmt.Sprintf("INSERT INTO items (%s) VALUES (%s)",
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// OnCollection records one collection.
func (w *Writer) OnCollection(ctx context.Context, collection *stac.Catalog) error {
	_, err := w.db.ExecContext(ctx,
		"INSERT INTO collections (id, stac_location) VALUES (?, ?)",
		collection.ID, collection.SourceURI)
	if err != nil {
		if isDuplicateKey(err) {
			w.duplicateCount++
			w.OnError(stac.IndexingError{
				Time:        time.Now().UTC(),
				ErrorType:   string(errors.KindItemValidation),
				Subtype:     "duplicate",
				Description: fmt.Sprintf("duplicate collection id %q at %s", collection.ID, collection.SourceURI),
				Collection:  collection.ID,
			})
			return nil
		}
		return err
	}
	w.collectionCount++
	return nil
}

// OnItem validates the geometry, extracts indexables, and inserts one row.
// Invalid geometries and duplicate keys are counted and recorded, never fatal.
func (w *Writer) OnItem(ctx context.Context, item *stac.Item) error {
	hexWKB, err := item.GeometryWKB()
	if err != nil {
		w.invalidCount++
		w.OnError(stac.IndexingError{
			Time:          time.Now().UTC(),
			ErrorType:     string(errors.KindItemValidation),
			Subtype:       "invalid-geometry",
			InputLocation: "geometry",
			Description:   fmt.Sprintf("geometry of %s/%s cannot be encoded: %v", item.Collection, item.ID, err),
			Collection:    item.Collection,
			Item:          item.ID,
		})
		return nil
	}

	var valid bool
	err = w.db.QueryRowContext(ctx,
		"SELECT ST_IsValid(ST_GeomFromHEXWKB(?))", hexWKB).Scan(&valid)
	if err != nil {
		return fmt.Errorf("geometry check failed for %s/%s: %w", item.Collection, item.ID, err)
	}
	if !valid {
		w.invalidCount++
		w.OnError(stac.IndexingError{
			Time:          time.Now().UTC(),
			ErrorType:     string(errors.KindItemValidation),
			Subtype:       "invalid-geometry",
			InputLocation: "geometry",
			Description:   fmt.Sprintf("geometry of %s/%s is not OGC-valid", item.Collection, item.ID),
			Collection:    item.Collection,
			Item:          item.ID,
		})
		return nil
	}

	args := []interface{}{
		item.ID,
		item.Collection,
		hexWKB,
		timeArg(item.Datetime),
		timeArg(item.Start),
		timeArg(item.End),
		item.SourceURI,
		item.AppliedFixesColumn(),
	}
	for _, name := range w.indexableNames {
		value := ExtractPath(item.Raw, w.cfg.Indexables[name].JSONPath)
		if value == nil {
			w.OnError(stac.IndexingError{
				Time:          time.Now().UTC(),
				ErrorType:     string(errors.KindItemValidation),
				Subtype:       "missing-json-path",
				InputLocation: w.cfg.Indexables[name].JSONPath,
				Description:   fmt.Sprintf("item %s/%s has no value at %q", item.Collection, item.ID, w.cfg.Indexables[name].JSONPath),
				Collection:    item.Collection,
				Item:          item.ID,
			})
		}
		args = append(args, sqlValue(value))
	}

	if _, err := w.db.ExecContext(ctx, w.insertItemSQL, args...); err != nil {
		if isDuplicateKey(err) {
			w.duplicateCount++
			w.OnError(stac.IndexingError{
				Time:        time.Now().UTC(),
				ErrorType:   string(errors.KindItemValidation),
				Subtype:     "duplicate",
				Description: fmt.Sprintf("duplicate item id %q in collection %q", item.ID, item.Collection),
				Collection:  item.Collection,
				Item:        item.ID,
			})
			return nil
		}
		return err
	}
	w.itemCount++
	return nil
}

// OnError records one indexing error into the errors table.
func (w *Writer) OnError(indexingError stac.IndexingError) {
	w.errorCount++
	_, err := w.db.Exec(
		`INSERT INTO errors (time, error_type, subtype, input_location, description, possible_fixes, collection, item)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		indexingError.Time,
		indexingError.ErrorType,
		indexingError.Subtype,
		indexingError.InputLocation,
		indexingError.Description,
		indexingError.PossibleFixes,
		indexingError.Collection,
		indexingError.Item)
	if err != nil {
		log.Printf("index: failed to record error %v: %v", indexingError, err)
	}
}

// Finish populates the catalog tables, exports Parquet, writes the manifest
// last, and returns the manifest URI. Nothing before the manifest write is
// visible to readers.
func (w *Writer) Finish(ctx context.Context) (string, error) {
	if err := w.populateQueryables(ctx); err != nil {
		return "", err
	}
	if err := w.populateSortables(ctx); err != nil {
		return "", err
	}
	if err := w.recordLoadHistory(ctx); err != nil {
		return "", err
	}
	if err := w.export(ctx); err != nil {
		return "", err
	}

	manifest := &Manifest{
		IndexerVersion: IndexerVersion,
		Created:        time.Now().UTC(),
		LoadID:         w.loadID,
		RootCatalogURI: w.opts.RootCatalogURI,
		IndexConfig:    w.cfg,
		Tables:         make(map[string]TableRef),
	}
	for _, table := range w.exportTables() {
		manifest.Tables[table] = TableRef{RelativePath: table + ".parquet"}
	}
	return writeManifest(ctx, w.sources, w.snapshotURI, manifest)
}

func (w *Writer) populateQueryables(ctx context.Context) error {
	names := make([]string, 0, len(w.cfg.Queryables))
	for name := range w.cfg.Queryables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		queryable := w.cfg.Queryables[name]
		indexable := w.cfg.Indexables[name]
		schemaJSON := ""
		if queryable.JSONSchema != nil {
			data, err := json.Marshal(queryable.JSONSchema)
			if err != nil {
				return fmt.Errorf("queryable %q schema does not marshal: %w", name, err)
			}
			schemaJSON = string(data)
		}
		for _, collectionID := range sortedOrStar(queryable.Collections) {
			_, err := w.db.ExecContext(ctx,
				`INSERT INTO queryables_by_collection
				 (name, collection_id, description, json_schema, items_column, items_column_type, is_geometry, is_temporal)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				name, collectionID, indexable.Description, schemaJSON,
				w.cfg.ColumnName(name), indexable.StorageType,
				IsGeometryType(indexable.StorageType), IsTemporalType(indexable.StorageType))
			if err != nil {
				return fmt.Errorf("failed to register queryable %q: %w", name, err)
			}
		}
	}
	return nil
}

func (w *Writer) populateSortables(ctx context.Context) error {
	names := make([]string, 0, len(w.cfg.Sortables))
	for name := range w.cfg.Sortables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sortable := w.cfg.Sortables[name]
		indexable := w.cfg.Indexables[name]
		for _, collectionID := range sortedOrStar(sortable.Collections) {
			_, err := w.db.ExecContext(ctx,
				`INSERT INTO sortables_by_collection (name, collection_id, description, items_column)
				 VALUES (?, ?, ?, ?)`,
				name, collectionID, indexable.Description, w.cfg.ColumnName(name))
			if err != nil {
				return fmt.Errorf("failed to register sortable %q: %w", name, err)
			}
		}
	}
	return nil
}

func (w *Writer) recordLoadHistory(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO load_history
		 (load_id, start_time, end_time, root_catalog_uris, collection_count, item_count, invalid_count, duplicate_count, error_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.loadID, w.startTime, time.Now().UTC(), w.opts.RootCatalogURI,
		w.collectionCount, w.itemCount, w.invalidCount, w.duplicateCount, w.errorCount)
	return err
}

func (w *Writer) exportTables() []string {
	return append(append([]string{}, TableNames...), "load_history")
}

// exportSelects orders every export deterministically so re-indexing the
// same tree yields byte-identical column data.
func (w *Writer) exportSelect(table string) string {
	switch table {
	case "items":
		columns := []string{
			"id", "collection_id", "ST_AsWKB(geometry) AS geometry",
			"datetime", "start_datetime", "end_datetime", "stac_location", "applied_fixes",
		}
		for _, name := range w.indexableNames {
			columns = append(columns, quoteIdent(w.cfg.ColumnName(name)))
		}
		return fmt.Sprintf("SELECT %s FROM items ORDER BY collection_id, id", strings.Join(columns, ", "))
	case "collections":
		return "SELECT * FROM collections ORDER BY id"
	case "queryables_by_collection":
		return "SELECT * FROM queryables_by_collection ORDER BY name, collection_id"
	case "sortables_by_collection":
		return "SELECT * FROM sortables_by_collection ORDER BY name, collection_id"
	case "errors":
		return "SELECT * FROM errors ORDER BY time, error_type, input_location"
	default:
		return "SELECT * FROM " + table
	}
}

func (w *Writer) export(ctx context.Context) error {
	for _, table := range w.exportTables() {
		target := parquetTarget(source.JoinURI(w.snapshotURI, table+".parquet"))
		stmt := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET)", w.exportSelect(table), sqlString(target))
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to export %s: %w", table, err)
		}
	}
	return nil
}

// parquetTarget maps a URI to the form DuckDB's COPY/read_parquet accept:
// s3 URIs pass through httpfs, file URIs become plain paths.
func parquetTarget(uri string) string {
	return strings.TrimPrefix(uri, "file://")
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

func sortedOrStar(collections []string) []string {
	if len(collections) == 0 {
		return []string{"*"}
	}
	out := append([]string{}, collections...)
	sort.Strings(out)
	return out
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// sqlValue normalises extracted JSON values for parameter binding.
func sqlValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case nil, bool, float64, string:
		return tv
	default:
		// Structured values are stored as JSON text.
		data, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(data)
	}
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "primary key")
}

// quoteIdent quotes an identifier with the engine's identifier quote.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlString escapes a string for inclusion in a single-quoted SQL literal.
func sqlString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
