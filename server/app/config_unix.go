//go:build !windows
// +build !windows

package app

const (
	defaultLocalBlobStoreDir      = "/var/lib/filedepot/blob"
	defaultSQLiteConnectionString = "file:/var/lib/filedepot/db/sqlite.db?cache=shared"
)
