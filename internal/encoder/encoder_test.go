package encoder

import (
	"bufio"
	"slices"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	draptolib "github.com/five82/drapto"

	"ffarm/internal/config"
)

func TestLogTailKeepsNewestLines(t *testing.T) {
	tail := NewLogTail(3)
	for _, line := range []string{"one", "", "two", "three  ", "four"} {
		tail.Add(line)
	}
	if got, want := tail.Lines(), []string{"two", "three", "four"}; !slices.Equal(got, want) {
		t.Fatalf("Lines() = %v, want %v", got, want)
	}

	var nilTail *LogTail
	nilTail.Add("ignored")
	if nilTail.Lines() != nil {
		t.Fatal("nil tail should report no lines")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Encoder = config.EncoderFFmpeg
	enc, err := New(&cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := enc.(*FFmpeg); !ok {
		t.Fatalf("expected FFmpeg backend, got %T", enc)
	}

	cfg.Worker.Encoder = config.EncoderDrapto
	enc, err = New(&cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := enc.(*Drapto); !ok {
		t.Fatalf("expected Drapto backend, got %T", enc)
	}

	cfg.Worker.Encoder = "handbrake"
	if _, err := New(&cfg, nil); err == nil {
		t.Fatal("expected error for unknown encoder")
	} else if hint := errors.FlattenHints(err); !strings.Contains(hint, "worker.encoder") {
		t.Fatalf("expected config hint, got %q", hint)
	}
}

func TestParseProgressTime(t *testing.T) {
	line := "frame= 1440 fps=96 q=28.0 size=   10240kB time=00:01:02.50 bitrate=1342.2kbits/s speed=4.0x"
	seconds, ok := parseProgressTime(line)
	if !ok || seconds != 62.5 {
		t.Fatalf("parseProgressTime = %v, %v", seconds, ok)
	}
	if _, ok := parseProgressTime("Stream #0:0: Video: h264"); ok {
		t.Fatal("expected no match for stream line")
	}
}

func TestScanStatusLinesSplitsCarriageReturns(t *testing.T) {
	input := "header\nframe=1 time=00:00:01.00\rframe=2 time=00:00:02.00\r\nlast"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanStatusLines)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	want := []string{"header", "frame=1 time=00:00:01.00", "frame=2 time=00:00:02.00", "last"}
	if !slices.Equal(lines, want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
}

func TestDraptoOutputUsesDestinationDirectory(t *testing.T) {
	dir, out := draptoOutput(Task{Source: "/in/Film.2024.mp4", Destination: "/out/films/Film.mkv"})
	if dir != "/out/films" || out != "/out/films/Film.2024.mkv" {
		t.Fatalf("draptoOutput = %q, %q", dir, out)
	}
}

func TestReporterForwardsProgressAndTail(t *testing.T) {
	tail := NewLogTail(10)
	var updates []Progress
	rep := newReporter(tail, func(p Progress) { updates = append(updates, p) })

	rep.EncodingStarted(2400)
	rep.EncodingProgress(draptolib.ProgressSnapshot{Percent: 42})
	rep.Warning("audio track missing language")

	if len(updates) != 2 || updates[1].Percent != 42 || updates[1].Stage != "encoding" {
		t.Fatalf("unexpected updates %+v", updates)
	}
	lines := tail.Lines()
	if len(lines) != 2 || lines[1] != "warning: audio track missing language" {
		t.Fatalf("unexpected tail %q", lines)
	}
}
