package app

import (
	"context"
	"fmt"

	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/server/api/rest/server"
	"github.com/filedepot/filedepot/server/services"
	"github.com/filedepot/filedepot/server/services/file"
	"github.com/filedepot/filedepot/server/store"
	"github.com/filedepot/filedepot/server/store/blobs"
	"github.com/filedepot/filedepot/server/store/files"
	"github.com/filedepot/filedepot/server/store/migrations"
)

type Server struct {
	FileService services.FileService
	APIServer   *server.AppAPIServer
}

// New constructs a fully wired server from config, running database
// migrations as part of opening the database. The returned cleanup function
// closes the database and must be called when the server is no longer needed.
func New(ctx context.Context, config *ServerConfig) (*Server, func(), error) {
	logRegistry, err := logger.NewLogRegistry(config.LogLevels)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating log registry: %w", err)
	}
	logFactory := logger.MakeLogrusLogFactoryStdOut(logRegistry)

	migrationRunner := migrations.NewFileDepotGolangMigrateRunner(logFactory)
	db, cleanup, err := store.NewDatabase(ctx, config.DatabaseConfig, migrationRunner)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening database: %w", err)
	}

	blobStoreBytes, err := BlobStoreFactory(config.BlobStoreConfig, logFactory)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("error creating blob store: %w", err)
	}

	blobStore := blobs.NewStore(db, logFactory)
	fileStore := files.NewStore(db, logFactory)
	fileService := file.NewFileService(db, fileStore, blobStore, blobStoreBytes, logFactory)

	fileAPI := server.NewFileAPI(fileService, logFactory)
	router := server.NewAppAPIRouter(fileAPI, logFactory)
	apiServer, err := server.NewAppAPIServer(router, config.APIConfig, server.RealHTTPServerFactory(), logFactory)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("error creating API server: %w", err)
	}

	return &Server{
		FileService: fileService,
		APIServer:   apiServer,
	}, cleanup, nil
}
