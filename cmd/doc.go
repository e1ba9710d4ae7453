// Package cmd implements the command-line interface for taskdeck.
//
// This package provides the following commands:
//   - serve: Start the HTTP server backing the single-page to-do application
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
