// huddle is the command-line interface for the huddle match organiser.
//
// Usage:
//
//	huddle <command> [flags]
//
// Commands:
//
//	init        Write a default huddle.yaml
//	migrate     Create the event store schema
//	stream      Print the stored events of a match
//	snapshot    Print the latest snapshot of a match
//	demo        Run the match scenarios against an in-memory store
//	diagnose    Run diagnostic checks on your setup
//	version     Show version information
//
// Examples:
//
//	# Use PostgreSQL through pgx
//	huddle init --driver pgx
//	HUDDLE_DATABASE_URL=postgres://localhost/huddle huddle migrate
//
//	# Inspect a match
//	huddle stream 7f1c... --data
package main

import (
	"os"

	"github.com/AshkanYarmoradi/go-huddle/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
