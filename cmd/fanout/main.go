package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ligustah/fanout/pkg/transfer"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceNotAccess  = 3
	ExitNotFound         = 4
	ExitStorageError     = 5
	ExitInvalidRange     = 6
	ExitValidationFailed = 7
)

// stdout receives media bytes and command output.
var stdout io.Writer = os.Stdout

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "download":
		return runDownload(cmdArgs)
	case "stream":
		return runStream(cmdArgs)
	case "info":
		return runInfo(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "publish":
		return runPublish(cmdArgs)
	case "validate":
		return runValidate(cmdArgs)
	case "delete":
		return runDelete(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: fanout <command> [options]

Commands:
  download  Fetch a media object into a local file using every client
  stream    Write a byte range of a media object to stdout or a file
  info      Show the size of a media object and its chunk plan
  serve     Serve media over HTTP with range support
  publish   Store a local file as sharded media in object storage
  validate  Verify all shards of published media exist and match the manifest
  delete    Remove published media and all its shards

Run 'fanout <command> -h' for command-specific help.`)
}

// exitCodeFor maps a transfer error to an exit code.
func exitCodeFor(err error) int {
	var ie *transfer.IntegrityError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, transfer.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, transfer.ErrInvalidRange):
		return ExitInvalidRange
	case errors.Is(err, transfer.ErrNoClients), transfer.IsConnectionError(err):
		return ExitSourceNotAccess
	case errors.As(err, &ie):
		return ExitValidationFailed
	case errors.Is(err, context.Canceled):
		return ExitGeneralError
	default:
		return ExitStorageError
	}
}
