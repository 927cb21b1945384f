package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ffarm/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "ffarm")
	if cfg.Master.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Master.StateDir, wantState)
	}
	if cfg.Storage.JournalPath != filepath.Join(wantState, "journal.db") {
		t.Fatalf("unexpected journal path: %q", cfg.Storage.JournalPath)
	}
	if cfg.BindAddress() != "0.0.0.0:8000" {
		t.Fatalf("unexpected bind address: %q", cfg.BindAddress())
	}
	if cfg.Scheduler.RetryCeiling != 3 {
		t.Fatalf("expected retry ceiling 3, got %d", cfg.Scheduler.RetryCeiling)
	}
	if cfg.HeartbeatInterval().Seconds() != 10 {
		t.Fatalf("expected 10s heartbeat interval, got %s", cfg.HeartbeatInterval())
	}
	if cfg.HeartbeatTimeout() <= cfg.HeartbeatInterval() {
		t.Fatalf("heartbeat timeout %s must exceed interval %s", cfg.HeartbeatTimeout(), cfg.HeartbeatInterval())
	}
	if cfg.Worker.MasterURL != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected master url: %q", cfg.Worker.MasterURL)
	}
	if cfg.Worker.Encoder != config.EncoderFFmpeg {
		t.Fatalf("unexpected encoder: %q", cfg.Worker.Encoder)
	}
	if cfg.Watch.Enabled {
		t.Fatal("expected hot folder disabled by default")
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "ffarm.toml")
	payload := struct {
		Master struct {
			Host        string `toml:"host"`
			Port        int    `toml:"port"`
			StateDir    string `toml:"state_dir"`
			LocalWorker bool   `toml:"local_worker"`
		} `toml:"master"`
		Scheduler struct {
			RetryCeiling     int `toml:"retry_ceiling"`
			HeartbeatTimeout int `toml:"heartbeat_timeout"`
		} `toml:"scheduler"`
		Worker struct {
			MasterURL string `toml:"master_url"`
			Encoder   string `toml:"encoder"`
		} `toml:"worker"`
		Watch struct {
			Enabled    bool     `toml:"enabled"`
			Dir        string   `toml:"dir"`
			OutputDir  string   `toml:"output_dir"`
			Extensions []string `toml:"extensions"`
		} `toml:"watch"`
	}{}
	payload.Master.Host = "127.0.0.1"
	payload.Master.Port = 9100
	payload.Master.StateDir = "~/farm"
	payload.Master.LocalWorker = true
	payload.Scheduler.RetryCeiling = 5
	payload.Scheduler.HeartbeatTimeout = 60
	payload.Worker.MasterURL = "http://farm.local:9100/"
	payload.Worker.Encoder = "DRAPTO"
	payload.Watch.Enabled = true
	payload.Watch.Dir = "~/incoming"
	payload.Watch.OutputDir = "~/encoded"
	payload.Watch.Extensions = []string{"MKV", ".mp4"}

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected existing config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.BindAddress() != "127.0.0.1:9100" {
		t.Fatalf("unexpected bind address: %q", cfg.BindAddress())
	}
	if cfg.Master.StateDir != filepath.Join(tempHome, "farm") {
		t.Fatalf("unexpected state dir: %q", cfg.Master.StateDir)
	}
	if !cfg.Master.LocalWorker {
		t.Fatal("expected master.local_worker to be read")
	}
	if cfg.Scheduler.RetryCeiling != 5 {
		t.Fatalf("unexpected retry ceiling: %d", cfg.Scheduler.RetryCeiling)
	}
	if cfg.Worker.MasterURL != "http://farm.local:9100" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Worker.MasterURL)
	}
	if cfg.Worker.Encoder != config.EncoderDrapto {
		t.Fatalf("expected encoder lowercased, got %q", cfg.Worker.Encoder)
	}
	if got := strings.Join(cfg.Watch.Extensions, ","); got != ".mkv,.mp4" {
		t.Fatalf("unexpected normalized extensions: %q", got)
	}
	if cfg.Watch.Dir != filepath.Join(tempHome, "incoming") {
		t.Fatalf("unexpected watch dir: %q", cfg.Watch.Dir)
	}
}

func TestLoadHonoursEnvironmentFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FFARM_MASTER_URL", "http://10.0.0.5:8000")
	t.Setenv("FFARM_FFMPEG", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("FFARM_API_TOKEN", "secret")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Worker.MasterURL != "http://10.0.0.5:8000" {
		t.Fatalf("unexpected master url: %q", cfg.Worker.MasterURL)
	}
	if cfg.Worker.FFmpegBinary != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("unexpected ffmpeg binary: %q", cfg.Worker.FFmpegBinary)
	}
	if cfg.Worker.FFprobeBinary != "ffprobe" {
		t.Fatalf("unexpected ffprobe binary: %q", cfg.Worker.FFprobeBinary)
	}
	if cfg.Master.APIToken != "secret" {
		t.Fatalf("unexpected api token: %q", cfg.Master.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"retry ceiling", func(c *config.Config) { c.Scheduler.RetryCeiling = 0 }, "retry_ceiling"},
		{"heartbeat slower than timeout", func(c *config.Config) { c.Worker.HeartbeatInterval = 40 }, "heartbeat_interval"},
		{"encoder", func(c *config.Config) { c.Worker.Encoder = "handbrake" }, "worker.encoder"},
		{"master url", func(c *config.Config) { c.Worker.MasterURL = "farm:8000" }, "master_url"},
		{"port", func(c *config.Config) { c.Master.Port = 70000 }, "master.port"},
		{"watch dir", func(c *config.Config) { c.Watch.Enabled = true; c.Watch.OutputDir = "/out" }, "watch.dir"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "my-farm" }, "notifications.ntfy_topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSampleRoundTripsThroughLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Scheduler.RetryCeiling != 3 || cfg.Master.Port != 8000 {
		t.Fatalf("sample diverges from defaults: %+v", cfg.Scheduler)
	}
}

func TestEnsureDirectoriesCreatesStateAndJournalDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Master.StateDir = filepath.Join(base, "state")
	cfg.Logging.Dir = filepath.Join(base, "logs")
	cfg.Storage.JournalPath = filepath.Join(base, "db", "journal.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{"state", "logs", "db"} {
		if info, err := os.Stat(filepath.Join(base, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory, err=%v", dir, err)
		}
	}
}
