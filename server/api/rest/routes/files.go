package routes

import (
	"fmt"

	"github.com/filedepot/filedepot/common/models"
)

func MakeFileLink(rctx RequestContext, fileID models.FileID) string {
	return fmt.Sprintf("%s/api/v1/files/%s", rctx, fileID)
}

func MakeFileDataLink(rctx RequestContext, fileID models.FileID) string {
	return fmt.Sprintf("%s/data", MakeFileLink(rctx, fileID))
}

func MakeFilesLink(rctx RequestContext) string {
	return fmt.Sprintf("%s/api/v1/files", rctx)
}

func MakeStorageStatsLink(rctx RequestContext) string {
	return fmt.Sprintf("%s/storage_stats", MakeFilesLink(rctx))
}

func MakeFileTypesLink(rctx RequestContext) string {
	return fmt.Sprintf("%s/file_types", MakeFilesLink(rctx))
}
