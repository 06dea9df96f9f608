package fsck

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/server/cmd/filedepot-tools/cli"
	"github.com/filedepot/filedepot/server/cmd/filedepot-tools/commands"
	"github.com/filedepot/filedepot/server/services"
	"github.com/filedepot/filedepot/server/services/blob"
	"github.com/filedepot/filedepot/server/store"
	"github.com/filedepot/filedepot/server/store/blobs"
)

const defaultSQLiteConnectionString = "file:/var/lib/filedepot/db/sqlite.db?cache=shared"

// listPageSize is the number of blob keys fetched from the byte store per call.
const listPageSize = 1000

func init() {
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.databaseDriver,
		"driver",
		string(store.Sqlite),
		"The Database Driver to use (i.e sqlite3|postgres)")
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.databaseConnectionString,
		"connection",
		defaultSQLiteConnectionString,
		"The connection string for the database")
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.blobStoreType,
		"blob_store_type",
		blob.LocalBlobStoreType.String(),
		fmt.Sprintf("The type of blob store to check. Options: %s", strings.Join(blob.BlobStoreTypes(), ", ")))
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.localBlobStoreDir,
		"blob_store_local_directory",
		"/var/lib/filedepot/blob",
		"The path on the local host blob files are stored to, if using the local blob store.")
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.s3Config.BucketName,
		"blob_store_aws_s3_bucket_name",
		"", "The name of the S3 bucket blobs are stored to, if using the S3 blob store.")
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.s3Config.Region,
		"blob_store_aws_s3_region",
		"", "The region of the S3 bucket blobs are stored to, if using the S3 blob store.")
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.s3Config.AccessKeyID,
		"blob_store_aws_s3_access_key_id",
		"", "The AWS Access Key ID to use to authenticate to the S3 bucket, if using the S3 blob store.")
	fsckCmd.Flags().StringVar(
		&fsckCmdConfig.s3Config.SecretAccessKey,
		"blob_store_aws_s3_secret_key",
		"", "The AWS Secret Key to use to authenticate to the S3 bucket, if using the S3 blob store.")
	fsckCmd.Flags().BoolVar(
		&fsckCmdConfig.remove,
		"remove",
		false,
		"Delete orphaned blob content instead of just reporting it")
	fsckCmd.Flags().BoolVarP(
		&fsckCmdConfig.skipConfirmation,
		"skip-confirmation",
		"",
		false,
		"Skip interactive confirmation and automatically answer Yes to confirmation questions")

	commands.RootCmd.AddCommand(fsckCmd)
}

var fsckCmdConfig = struct {
	databaseDriver           string
	databaseConnectionString string
	blobStoreType            string
	localBlobStoreDir        string
	s3Config                 blob.S3BlobStoreConfig
	remove                   bool
	skipConfirmation         bool
}{}

var fsckCmd = &cobra.Command{
	Use:           "fsck",
	Short:         "Checks the byte store against the blob ledger and reports orphaned content",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		logRegistry, err := logger.NewLogRegistry("")
		if err != nil {
			return err
		}
		logFactory := logger.MakeLogrusLogFactoryStdOutPlain(logRegistry)

		db, cleanup, err := store.NewDatabase(ctx, store.DatabaseConfig{
			Driver:             store.DBDriver(fsckCmdConfig.databaseDriver),
			ConnectionString:   store.DatabaseConnectionString(fsckCmdConfig.databaseConnectionString),
			MaxIdleConnections: store.DefaultDatabaseMaxIdleConnections,
			MaxOpenConnections: store.DefaultDatabaseMaxOpenConnections,
		}, nil)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer cleanup()

		byteStore, err := makeByteStore(logFactory)
		if err != nil {
			return err
		}
		blobStore := blobs.NewStore(db, logFactory)

		orphans, checked, err := findOrphanedContent(ctx, byteStore, blobStore)
		if err != nil {
			return err
		}
		cli.Stdout.Printf("Checked %d stored objects; %d orphaned", checked, len(orphans))
		for _, key := range orphans {
			cli.Stdout.Printf("orphan: %s", key)
		}
		if len(orphans) == 0 || !fsckCmdConfig.remove {
			return nil
		}

		confirmed := cli.AskForConfirmation(
			fmt.Sprintf("Delete %d orphaned objects from the byte store. Are you sure?", len(orphans)),
			fsckCmdConfig.skipConfirmation)
		if !confirmed {
			cli.Stdout.Printf("Orphan removal cancelled.")
			return nil
		}
		for _, key := range orphans {
			err := byteStore.DeleteBlob(ctx, key)
			if err != nil {
				return fmt.Errorf("error deleting orphaned object %q: %w", key, err)
			}
			cli.Stdout.Printf("deleted: %s", key)
		}
		return nil
	},
}

func makeByteStore(logFactory logger.LogFactory) (services.BlobStore, error) {
	switch strings.ToLower(fsckCmdConfig.blobStoreType) {
	case strings.ToLower(blob.AWSS3BlobStoreType.String()):
		return blob.NewS3BlobStore(fsckCmdConfig.s3Config, logFactory)
	case strings.ToLower(blob.LocalBlobStoreType.String()):
		return blob.NewLocalBlobStore(blob.LocalBlobStoreDirectory(fsckCmdConfig.localBlobStoreDir)), nil
	default:
		return nil, fmt.Errorf("error unsupported blob store type: %v", fsckCmdConfig.blobStoreType)
	}
}

// findOrphanedContent walks all stored objects and returns the keys that have
// no corresponding row in the blob ledger.
func findOrphanedContent(ctx context.Context, byteStore services.BlobStore, blobStore *blobs.BlobStore) ([]string, int, error) {
	var (
		orphans []string
		checked int
		marker  string
	)
	for {
		descriptors, nextMarker, err := byteStore.ListBlobs(ctx, "blobs/", marker, listPageSize)
		if err != nil {
			return nil, checked, fmt.Errorf("error listing stored objects: %w", err)
		}
		for _, descriptor := range descriptors {
			checked++
			// Keys shard as blobs/ab/cd/<digest>; the digest is the last path element
			digest := path.Base(descriptor.Key)
			_, err := blobStore.ReadByContentHash(ctx, nil, digest)
			if err != nil {
				if gerror.IsNotFound(err) {
					orphans = append(orphans, descriptor.Key)
					continue
				}
				return nil, checked, fmt.Errorf("error reading blob for %q: %w", descriptor.Key, err)
			}
		}
		if nextMarker == "" {
			return orphans, checked, nil
		}
		marker = nextMarker
	}
}
