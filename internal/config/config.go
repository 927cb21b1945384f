package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Master contains the coordinator's bind address and local state paths.
type Master struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	APIToken    string `toml:"api_token"`
	StateDir    string `toml:"state_dir"`
	LocalWorker bool   `toml:"local_worker"`
}

// Scheduler contains assignment and liveness tuning. Durations are seconds.
type Scheduler struct {
	RetryCeiling     int  `toml:"retry_ceiling"`
	HeartbeatTimeout int  `toml:"heartbeat_timeout"`
	SweepInterval    int  `toml:"sweep_interval"`
	StartPaused      bool `toml:"start_paused"`
}

// Worker contains settings for the encode agent.
type Worker struct {
	MasterURL         string `toml:"master_url"`
	ID                string `toml:"id"`
	Name              string `toml:"name"`
	Address           string `toml:"address"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	PollInterval      int    `toml:"poll_interval"`
	RequestTimeout    int    `toml:"request_timeout"`
	Encoder           string `toml:"encoder"`
	FFmpegBinary      string `toml:"ffmpeg_binary"`
	FFprobeBinary     string `toml:"ffprobe_binary"`
	ScratchDir        string `toml:"scratch_dir"`
	MinFreeGiB        int    `toml:"min_free_gib"`
}

// Storage controls the job journal.
type Storage struct {
	Journal     bool   `toml:"journal"`
	JournalPath string `toml:"journal_path"`
}

// Watch configures the hot folder that submits new media automatically.
type Watch struct {
	Enabled    bool              `toml:"enabled"`
	Dir        string            `toml:"dir"`
	OutputDir  string            `toml:"output_dir"`
	Container  string            `toml:"container"`
	Extensions []string          `toml:"extensions"`
	SettleTime int               `toml:"settle_time"`
	Parameters map[string]string `toml:"parameters"`
}

// Notifications configures ntfy alerts published by the master.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobSucceeded   bool   `toml:"job_succeeded"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
}

// Config encapsulates all configuration values for ffarm.
//
// Configuration sections by subsystem:
//   - Master: bind address, API token, state directories
//   - Scheduler: retry ceiling and heartbeat timing
//   - Worker: master URL, identity, encoder backend
//   - Storage: SQLite job journal
//   - Watch: hot folder auto-submission
//   - Notifications: ntfy alerts for job outcomes and lost workers
//   - Logging: log format, level, and directory
type Config struct {
	Master        Master        `toml:"master"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Worker        Worker        `toml:"worker"`
	Storage       Storage       `toml:"storage"`
	Watch         Watch         `toml:"watch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ffarm/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ffarm.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the master needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Master.StateDir, c.Logging.Dir}
	if c.Storage.Journal {
		dirs = append(dirs, filepath.Dir(c.Storage.JournalPath))
	}
	if c.Watch.Enabled {
		dirs = append(dirs, c.Watch.OutputDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// BindAddress returns the host:port the master listens on.
func (c *Config) BindAddress() string {
	return net.JoinHostPort(c.Master.Host, strconv.Itoa(c.Master.Port))
}

// LockPath returns the single-instance lock file for the master.
func (c *Config) LockPath() string {
	return filepath.Join(c.Master.StateDir, "master.lock")
}

// PIDPath returns the PID file written while the master runs.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Master.StateDir, "master.pid")
}

// HeartbeatTimeout is the silence after which a worker is declared lost.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Scheduler.HeartbeatTimeout) * time.Second
}

// SweepInterval is the period of the master's liveness timer.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Scheduler.SweepInterval) * time.Second
}

// HeartbeatInterval is how often a worker reports liveness.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Worker.HeartbeatInterval) * time.Second
}

// PollInterval is how often an idle worker asks for an assignment.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollInterval) * time.Second
}

// RequestTimeout bounds a single worker-to-master HTTP call.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Worker.RequestTimeout) * time.Second
}

// NotifyTimeout bounds a single ntfy publish.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// SettleTime is how long a hot-folder file must stay unchanged before submission.
func (c *Config) SettleTime() time.Duration {
	return time.Duration(c.Watch.SettleTime) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration.
func Sample() string {
	return sampleConfig
}
