package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ffarm/internal/api"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiGray   = "\033[90m"
)

var titleCaser = cases.Title(language.English)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel title-cases a job status or worker state and colors it for a
// terminal.
func stateLabel(state string, colorize bool) string {
	label := titleCaser.String(strings.ReplaceAll(state, "_", " "))
	if !colorize {
		return label
	}
	var color string
	switch state {
	case "succeeded", "idle":
		color = ansiGreen
	case "failed", "unreachable":
		color = ansiRed
	case "running", "busy":
		color = ansiBlue
	case "assigned":
		color = ansiYellow
	case "pending":
		color = ansiGray
	}
	if color == "" {
		return label
	}
	return color + label + ansiReset
}

func formatPercent(p api.JobProgress, status string) string {
	switch status {
	case "succeeded":
		return "100%"
	case "running":
		return fmt.Sprintf("%.1f%%", p.Percent)
	default:
		return "-"
	}
}

func formatAgo(value string) string {
	ts, ok := api.ParseTime(value)
	if !ok {
		return "-"
	}
	return humanize.Time(ts)
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
