package migrations

// DialectTemplate is used as the templating control for differing SQL syntax between our supported databases
type DialectTemplate struct {
	Binary            string
	IntegerPrimaryKey string
}

// MigrationSet provides a set of migrations that can be applied to a database.
type MigrationSet []MigrationData

// MigrationData provides the data for a single migration, including Up and Down SQL.
// Templated values are supported and will be substituted for database-specific values
// before the migrations are applied.
type MigrationData struct {
	SequenceNumber int64
	Name           string
	UpSQL          string
	DownSQL        string
}

// FileDepotServerMigrations is the set of migrations to set up the database for the FileDepot server.
var FileDepotServerMigrations = MigrationSet{
	{
		SequenceNumber: 1,
		Name:           "create_blobs",
		UpSQL: `CREATE TABLE IF NOT EXISTS blobs
				(
					blob_id text NOT NULL PRIMARY KEY,
					blob_created_at timestamp without time zone NOT NULL,
					blob_updated_at timestamp without time zone NOT NULL,
					blob_etag text NOT NULL,
					blob_hash_type text NOT NULL,
					blob_content_hash text NOT NULL,
					blob_size_bytes bigint NOT NULL,
					blob_storage_key text NOT NULL,
					blob_reference_count bigint NOT NULL DEFAULT 0
				);
				CREATE UNIQUE INDEX IF NOT EXISTS blobs_content_hash_unique_index ON blobs(blob_content_hash);
				CREATE UNIQUE INDEX IF NOT EXISTS blobs_created_at_id_desc_unique_index ON blobs(
					blob_created_at DESC,
					blob_id DESC);`,
		DownSQL: `DROP INDEX blobs_content_hash_unique_index;
				  DROP TABLE blobs;`,
	},
	{
		SequenceNumber: 2,
		Name:           "create_files",
		UpSQL: `CREATE TABLE IF NOT EXISTS files
				(
					file_id text NOT NULL PRIMARY KEY,
					file_created_at timestamp without time zone NOT NULL,
					file_name text NOT NULL,
					file_content_hash text NOT NULL REFERENCES blobs (blob_content_hash) ON UPDATE NO ACTION ON DELETE NO ACTION,
					file_type text NOT NULL,
					file_size_bytes bigint NOT NULL
				);
				CREATE INDEX IF NOT EXISTS files_content_hash_index ON files(file_content_hash);
				CREATE INDEX IF NOT EXISTS files_type_index ON files(file_type);
				CREATE INDEX IF NOT EXISTS files_size_bytes_index ON files(file_size_bytes);
				CREATE UNIQUE INDEX IF NOT EXISTS files_created_at_id_desc_unique_index ON files(
					file_created_at DESC,
					file_id DESC);`,
		DownSQL: `DROP TABLE files;`,
	},
}
