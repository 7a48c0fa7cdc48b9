package main

import (
	stderrors "errors"
	"fmt"
	"io"

	"pcappuller/internal/errors"
)

// Process exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitArgs      = 2
	exitTime      = 3
	exitRange     = 5
	exitOSError   = 10
	exitTool      = 11
	exitCancelled = 130
)

func exitCode(err error) int {
	switch errors.CodeOf(err) {
	case "":
		return exitOK
	case errors.InvalidArgument:
		return exitArgs
	case errors.TimeParse:
		return exitTime
	case errors.WindowRange:
		return exitRange
	case errors.OSError:
		return exitOSError
	case errors.ToolNotFound, errors.ToolFailed:
		return exitTool
	case errors.Cancelled:
		return exitCancelled
	default:
		return exitFailure
	}
}

// printError writes err and any remediation hint.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	var pe *errors.PullError
	if !stderrors.As(err, &pe) {
		return
	}
	for _, fix := range pe.SuggestedFixes {
		if fix.Description != "" {
			fmt.Fprintf(w, "  hint: %s\n", fix.Description)
		}
	}
}
