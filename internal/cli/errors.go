package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

// PrintError prints an error with appropriate formatting.
// If the error is a TrackError, it uses the user-friendly format.
// Otherwise, it prints a simple error message.
func PrintError(w io.Writer, err error) {
	if te := pterrors.AsTrackError(err); te != nil {
		fmt.Fprintln(w, te.UserMessage())
		if verbose {
			fmt.Fprintf(w, "\nCode: %s\n", te.Code)
			details := te.Details()
			for _, k := range slices.Sorted(maps.Keys(details)) {
				fmt.Fprintf(w, "%s: %s\n", k, details[k])
			}
			if te.Cause != nil {
				fmt.Fprintf(w, "Cause: %v\n", te.Cause)
			}
		}
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
