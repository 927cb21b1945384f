package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"ffarm/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The master binds an ephemeral loopback port and the journal is off unless
// WithJournal is applied.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Master.Host = "127.0.0.1"
	cfgVal.Master.Port = 0
	cfgVal.Master.StateDir = filepath.Join(base, "state")
	cfgVal.Logging.Dir = ""
	cfgVal.Logging.Format = "json"
	cfgVal.Storage.Journal = false
	cfgVal.Storage.JournalPath = filepath.Join(base, "state", "journal.db")
	cfgVal.Worker.ID = "test-worker"
	cfgVal.Worker.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Worker.MinFreeGiB = 0

	for _, dir := range []string{cfgVal.Master.StateDir, cfgVal.Worker.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithJournal enables the SQLite job journal under the test state dir.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Journal = true
	}
}

// WithAPIToken requires bearer authentication on the master API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Master.APIToken = token
	}
}

// WithHotFolder enables the hot folder with fresh watch and output dirs.
func WithHotFolder() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.Enabled = true
		b.cfg.Watch.Dir = filepath.Join(b.baseDir, "watch")
		b.cfg.Watch.OutputDir = filepath.Join(b.baseDir, "encoded")
		b.cfg.Watch.SettleTime = 0
		for _, dir := range []string{b.cfg.Watch.Dir, b.cfg.Watch.OutputDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				b.t.Fatalf("mkdir %s: %v", dir, err)
			}
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Master.StateDir)
}
