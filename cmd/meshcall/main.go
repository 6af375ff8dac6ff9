package main

import (
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/commands"
	"github.com/BioHazard786/meshcall/internal/logging"
)

func main() {
	// Keep the terminal quiet under the room view unless LOG_LEVEL asks otherwise
	logging.Init(slog.LevelError)
	commands.Execute()
}
