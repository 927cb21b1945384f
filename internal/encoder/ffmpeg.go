package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"ffarm/internal/logging"
)

// ArgsParameter is the job parameter holding extra ffmpeg arguments.
const ArgsParameter = "ffmpeg_args"

// progress never reaches 100 from status lines; completion is the result report.
const maxStatusPercent = 99

var commandContext = exec.CommandContext

var progressPattern = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// FFmpeg runs encodes through the ffmpeg CLI.
type FFmpeg struct {
	binary string
	probe  string
	logger *slog.Logger
}

// NewFFmpeg returns an FFmpeg backend. Empty binary names fall back to
// "ffmpeg" and "ffprobe" on PATH.
func NewFFmpeg(binary, probe string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if strings.TrimSpace(probe) == "" {
		probe = "ffprobe"
	}
	return &FFmpeg{
		binary: binary,
		probe:  probe,
		logger: logging.NewComponentLogger(logger, "encoder"),
	}
}

// Args builds the ffmpeg argument list for task.
func (f *FFmpeg) Args(task Task) ([]string, error) {
	if err := validate(task); err != nil {
		return nil, err
	}
	extra, err := shellquote.Split(task.Parameters[ArgsParameter])
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(ErrInvalidTask, "parse %s: %v", ArgsParameter, err),
			"check quoting in the job's ffmpeg_args parameter",
		)
	}
	args := make([]string, 0, len(extra)+4)
	args = append(args, "-y", "-i", task.Source)
	args = append(args, extra...)
	args = append(args, task.Destination)
	return args, nil
}

// Encode runs ffmpeg for task, streaming progress from its status output.
func (f *FFmpeg) Encode(ctx context.Context, task Task, progress func(Progress)) (string, error) {
	args, err := f.Args(task)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(task.Destination), 0o755); err != nil {
		return "", errors.Wrap(err, "create destination directory")
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	logger := f.logger.With(logging.Args(logging.JobID(task.JobID))...)
	duration := f.probeDuration(ctx, task.Source, logger)
	logger.Info("launching ffmpeg",
		logging.String("command", f.binary+" "+shellquote.Join(args...)),
		logging.Float64("source_duration_seconds", duration),
	)

	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", errors.Wrap(err, "stderr pipe")
	}
	cmd.Stdout = cmd.Stderr
	if err := cmd.Start(); err != nil {
		return "", errors.WithHint(
			errors.Wrapf(ErrEncodeFailed, "start %s: %v", f.binary, err),
			"install ffmpeg or set worker.ffmpeg_binary / FFARM_FFMPEG",
		)
	}

	progress(Progress{Percent: 0, Stage: "encoding"})
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanStatusLines)
	for scanner.Scan() {
		line := scanner.Text()
		task.Tail.Add(line)
		if duration <= 0 {
			continue
		}
		if seconds, ok := parseProgressTime(line); ok {
			percent := min(seconds/duration*100, maxStatusPercent)
			progress(Progress{
				Percent: percent,
				Stage:   "encoding",
				Message: fmt.Sprintf("encoding %.1f%%", percent),
			})
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errors.Wrap(ctxErr, "ffmpeg interrupted")
		}
		return "", errors.WithHint(
			errors.Wrapf(ErrEncodeFailed, "FFmpeg failed: %v", err),
			"inspect the job's log tail for the ffmpeg error",
		)
	}
	if scanErr != nil {
		logger.Warn("ffmpeg output truncated", logging.Error(scanErr))
	}
	return task.Destination, nil
}

func (f *FFmpeg) probeDuration(ctx context.Context, source string, logger *slog.Logger) float64 {
	cmd := commandContext(ctx, f.probe, //nolint:gosec
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		source,
	)
	out, err := cmd.Output()
	if err != nil {
		logger.Warn("ffprobe failed; progress tracking disabled",
			logging.String("source", source),
			logging.Error(err),
		)
		return 0
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || value <= 0 {
		logger.Warn("ffprobe returned no duration; progress tracking disabled",
			logging.String("source", source),
			logging.String("output", strings.TrimSpace(string(out))),
		)
		return 0
	}
	return value
}

func parseProgressTime(line string) (float64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + seconds, true
}

// scanStatusLines splits on \n and on the bare \r ffmpeg uses to redraw its
// status line.
func scanStatusLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
