package index

// Working-set DDL. Geometry lives as a spatial GEOMETRY column during the
// run and is exported to Parquet as WKB.
var schemaDDL = []string{
	`CREATE TABLE collections (
		id VARCHAR PRIMARY KEY,
		stac_location VARCHAR NOT NULL
	)`,
	`CREATE TABLE items (
		id VARCHAR NOT NULL,
		collection_id VARCHAR NOT NULL,
		geometry GEOMETRY NOT NULL,
		datetime TIMESTAMPTZ,
		start_datetime TIMESTAMPTZ,
		end_datetime TIMESTAMPTZ,
		stac_location VARCHAR NOT NULL,
		applied_fixes VARCHAR NOT NULL,
		PRIMARY KEY (collection_id, id)
	)`,
	`CREATE TABLE queryables_by_collection (
		name VARCHAR NOT NULL,
		collection_id VARCHAR NOT NULL,
		description VARCHAR,
		json_schema VARCHAR,
		items_column VARCHAR NOT NULL,
		items_column_type VARCHAR NOT NULL,
		is_geometry BOOLEAN NOT NULL,
		is_temporal BOOLEAN NOT NULL
	)`,
	`CREATE TABLE sortables_by_collection (
		name VARCHAR NOT NULL,
		collection_id VARCHAR NOT NULL,
		description VARCHAR,
		items_column VARCHAR NOT NULL
	)`,
	`CREATE TABLE errors (
		time TIMESTAMPTZ NOT NULL,
		error_type VARCHAR NOT NULL,
		subtype VARCHAR,
		input_location VARCHAR,
		description VARCHAR,
		possible_fixes VARCHAR,
		collection VARCHAR,
		item VARCHAR
	)`,
	`CREATE TABLE load_history (
		load_id VARCHAR NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		root_catalog_uris VARCHAR,
		collection_count BIGINT NOT NULL,
		item_count BIGINT NOT NULL,
		invalid_count BIGINT NOT NULL,
		duplicate_count BIGINT NOT NULL,
		error_count BIGINT NOT NULL
	)`,
}

// itemBaseColumns are the fixed items columns, in insert order.
var itemBaseColumns = []string{
	"id",
	"collection_id",
	"geometry",
	"datetime",
	"start_datetime",
	"end_datetime",
	"stac_location",
	"applied_fixes",
}
