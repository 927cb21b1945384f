package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	draptolib "github.com/five82/drapto"

	"ffarm/internal/logging"
)

// Drapto encodes with the Drapto library. The task destination's directory
// receives <stem>.mkv.
type Drapto struct {
	logger *slog.Logger
}

// NewDrapto returns a Drapto backend.
func NewDrapto(logger *slog.Logger) *Drapto {
	return &Drapto{logger: logging.NewComponentLogger(logger, "encoder")}
}

// Encode runs a Drapto encode for task.
func (d *Drapto) Encode(ctx context.Context, task Task, progress func(Progress)) (string, error) {
	if err := validate(task); err != nil {
		return "", err
	}
	outputDir, output := draptoOutput(task)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}

	enc, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return "", errors.Wrap(err, "initialize drapto")
	}
	logger := d.logger.With(logging.Args(logging.JobID(task.JobID))...)
	logger.Info("launching drapto encode",
		logging.String("input", task.Source),
		logging.String("output_dir", outputDir),
	)

	rep := newReporter(task.Tail, progress)
	if _, err := enc.EncodeWithReporter(ctx, task.Source, outputDir, rep); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errors.Wrap(ctxErr, "drapto interrupted")
		}
		return "", errors.WithHint(
			errors.Wrapf(ErrEncodeFailed, "Drapto failed: %v", err),
			"inspect the job's log tail for the drapto error",
		)
	}
	return output, nil
}

func draptoOutput(task Task) (string, string) {
	dir := filepath.Dir(task.Destination)
	base := filepath.Base(task.Source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return dir, filepath.Join(dir, stem+".mkv")
}

// reporter adapts Drapto reporter events to Progress callbacks and log lines.
type reporter struct {
	tail     *LogTail
	progress func(Progress)
}

func newReporter(tail *LogTail, progress func(Progress)) *reporter {
	if progress == nil {
		progress = func(Progress) {}
	}
	return &reporter{tail: tail, progress: progress}
}

func (r *reporter) Hardware(s draptolib.HardwareSummary) {
	r.tail.Add("hardware: " + s.Hostname)
}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.tail.Add(fmt.Sprintf("input %s (%s, %s, %s)", s.InputFile, s.Duration, s.Resolution, s.DynamicRange))
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	r.progress(Progress{Percent: float64(s.Percent), Stage: s.Stage, Message: s.Message})
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	r.tail.Add("crop: " + s.Message)
}

func (r *reporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.tail.Add(fmt.Sprintf("encoder %s preset %s quality %s", s.Encoder, s.Preset, s.Quality))
}

func (r *reporter) EncodingStarted(totalFrames uint64) {
	r.tail.Add(fmt.Sprintf("encoding started: %d frames", totalFrames))
	r.progress(Progress{Percent: 0, Stage: "encoding"})
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	percent := min(float64(s.Percent), maxStatusPercent)
	r.progress(Progress{
		Percent: percent,
		Stage:   "encoding",
		Message: fmt.Sprintf("encoding %.1f%% @ %.1fx", percent, float64(s.Speed)),
	})
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	status := "passed"
	if !s.Passed {
		status = "failed"
	}
	r.tail.Add("validation " + status)
	for _, step := range s.Steps {
		if !step.Passed {
			r.tail.Add(fmt.Sprintf("validation step %s failed: %s", step.Name, step.Details))
		}
	}
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.tail.Add(fmt.Sprintf("encoded %s -> %s (%d -> %d bytes)", s.InputFile, s.OutputPath, s.OriginalSize, s.EncodedSize))
}

func (r *reporter) Warning(message string) {
	r.tail.Add("warning: " + message)
}

func (r *reporter) Error(e draptolib.ReporterError) {
	line := fmt.Sprintf("error: %s: %s", e.Title, e.Message)
	if strings.TrimSpace(e.Suggestion) != "" {
		line += " (" + e.Suggestion + ")"
	}
	r.tail.Add(line)
}

func (r *reporter) OperationComplete(message string) {
	r.tail.Add(message)
}

func (r *reporter) BatchStarted(draptolib.BatchStartInfo) {}

func (r *reporter) FileProgress(draptolib.FileProgressContext) {}

func (r *reporter) BatchComplete(draptolib.BatchSummary) {}

var _ draptolib.Reporter = (*reporter)(nil)
