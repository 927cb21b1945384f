package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"

	"ffarm/internal/api"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, formatError(err))
		}
		os.Exit(1)
	}
}

func formatError(err error) string {
	msg := err.Error()
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Hint != "" {
		return msg + "\nhint: " + apiErr.Hint
	}
	if hint := errors.FlattenHints(err); hint != "" {
		return msg + "\nhint: " + hint
	}
	return msg
}
