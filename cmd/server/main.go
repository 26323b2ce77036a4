// Package main is the entry point for the recipe API server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (from env vars, flags, or config files)
// 2. Create dependencies (logger, database connections, etc.)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// COMMANDS:
//
//	recipe-api [serve]                                   run the HTTP API (default)
//	recipe-api migrate                                   apply database migrations and exit
//	recipe-api createsuperuser --email E --password P    create an admin account
//
// Every command accepts --config path/to/recipe-api.yaml.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.Getenv).Execute(); err != nil {
		// cobra has already printed the error and usage.
		os.Exit(1)
	}
}
