package encoder

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"ffarm/internal/config"
)

// DefaultTailLines is the number of output lines kept for a completion report.
const DefaultTailLines = 50

var (
	// ErrInvalidTask is returned when a task lacks a source or destination or
	// carries unparseable parameters.
	ErrInvalidTask = errors.New("invalid encode task")
	// ErrEncodeFailed marks an encoder run that exited unsuccessfully.
	ErrEncodeFailed = errors.New("encode failed")
)

// Task is one job handed to an encoder.
type Task struct {
	JobID       string
	Source      string
	Destination string
	Parameters  map[string]string
	// Tail collects encoder output. May be nil.
	Tail *LogTail
}

// Progress is a single progress observation. Percent is negative when the
// encoder cannot estimate completion.
type Progress struct {
	Percent float64
	Stage   string
	Message string
}

// Encoder performs an encode and returns the path of the produced file.
type Encoder interface {
	Encode(ctx context.Context, task Task, progress func(Progress)) (string, error)
}

// New returns the backend selected by worker.encoder.
func New(cfg *config.Config, logger *slog.Logger) (Encoder, error) {
	if cfg == nil {
		return nil, errors.New("encoder requires config")
	}
	switch cfg.Worker.Encoder {
	case config.EncoderFFmpeg, "":
		return NewFFmpeg(cfg.Worker.FFmpegBinary, cfg.Worker.FFprobeBinary, logger), nil
	case config.EncoderDrapto:
		return NewDrapto(logger), nil
	default:
		return nil, errors.WithHintf(
			errors.Newf("unknown encoder %q", cfg.Worker.Encoder),
			"set worker.encoder to %q or %q", config.EncoderFFmpeg, config.EncoderDrapto,
		)
	}
}

func validate(task Task) error {
	if strings.TrimSpace(task.Source) == "" {
		return errors.Wrap(ErrInvalidTask, "source is required")
	}
	if strings.TrimSpace(task.Destination) == "" {
		return errors.Wrap(ErrInvalidTask, "destination is required")
	}
	return nil
}

// LogTail keeps the most recent lines of encoder output.
type LogTail struct {
	mu    sync.Mutex
	limit int
	lines []string
}

// NewLogTail returns a tail holding at most limit lines.
func NewLogTail(limit int) *LogTail {
	if limit <= 0 {
		limit = DefaultTailLines
	}
	return &LogTail{limit: limit}
}

// Add appends a line, dropping the oldest when full. Blank lines are ignored.
func (t *LogTail) Add(line string) {
	if t == nil {
		return
	}
	line = strings.TrimRight(line, " \t\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == t.limit {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.limit-1]
	}
	t.lines = append(t.lines, line)
}

// Lines returns a copy of the retained lines, oldest first.
func (t *LogTail) Lines() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return nil
	}
	return append([]string(nil), t.lines...)
}
