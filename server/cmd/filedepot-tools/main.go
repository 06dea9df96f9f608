package main

import (
	"github.com/filedepot/filedepot/server/cmd/filedepot-tools/commands"
	_ "github.com/filedepot/filedepot/server/cmd/filedepot-tools/commands/fsck"
	_ "github.com/filedepot/filedepot/server/cmd/filedepot-tools/commands/migrate"
)

func main() {
	commands.Execute()
}
