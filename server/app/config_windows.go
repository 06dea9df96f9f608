//go:build windows
// +build windows

package app

const (
	defaultLocalBlobStoreDir      = "C:\\ProgramData\\filedepot\\blob"
	defaultSQLiteConnectionString = "file:C:\\ProgramData\\filedepot\\db\\sqlite.db?cache=shared"
)
