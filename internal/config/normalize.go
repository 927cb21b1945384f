package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeMaster(); err != nil {
		return err
	}
	c.normalizeScheduler()
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	c.normalizeNotifications()
	return c.normalizeLogging()
}

func (c *Config) normalizeMaster() error {
	c.Master.Host = strings.TrimSpace(c.Master.Host)
	if c.Master.Host == "" {
		c.Master.Host = defaultMasterHost
	}
	if c.Master.Port == 0 {
		c.Master.Port = defaultMasterPort
	}
	c.Master.APIToken = strings.TrimSpace(c.Master.APIToken)
	if c.Master.APIToken == "" {
		if value, ok := os.LookupEnv("FFARM_API_TOKEN"); ok {
			c.Master.APIToken = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Master.StateDir) == "" {
		c.Master.StateDir = defaultStateDir
	}
	var err error
	if c.Master.StateDir, err = expandPath(c.Master.StateDir); err != nil {
		return fmt.Errorf("master.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.RetryCeiling == 0 {
		c.Scheduler.RetryCeiling = defaultRetryCeiling
	}
	if c.Scheduler.HeartbeatTimeout == 0 {
		c.Scheduler.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Scheduler.SweepInterval == 0 {
		c.Scheduler.SweepInterval = defaultSweepInterval
	}
}

func (c *Config) normalizeWorker() error {
	c.Worker.MasterURL = strings.TrimRight(strings.TrimSpace(c.Worker.MasterURL), "/")
	if value, ok := os.LookupEnv("FFARM_MASTER_URL"); ok && strings.TrimSpace(value) != "" {
		c.Worker.MasterURL = strings.TrimRight(strings.TrimSpace(value), "/")
	}
	if c.Worker.MasterURL == "" {
		c.Worker.MasterURL = defaultMasterURL
	}
	c.Worker.ID = strings.TrimSpace(c.Worker.ID)
	c.Worker.Name = strings.TrimSpace(c.Worker.Name)
	c.Worker.Address = strings.TrimSpace(c.Worker.Address)
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = defaultWorkerHeartbeatInterval
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = defaultWorkerPollInterval
	}
	if c.Worker.RequestTimeout == 0 {
		c.Worker.RequestTimeout = defaultWorkerRequestTimeout
	}
	c.Worker.Encoder = strings.ToLower(strings.TrimSpace(c.Worker.Encoder))
	if c.Worker.Encoder == "" {
		c.Worker.Encoder = defaultEncoder
	}
	c.Worker.FFmpegBinary = strings.TrimSpace(c.Worker.FFmpegBinary)
	if value, ok := os.LookupEnv("FFARM_FFMPEG"); ok && strings.TrimSpace(value) != "" {
		c.Worker.FFmpegBinary = strings.TrimSpace(value)
	}
	if c.Worker.FFmpegBinary == "" {
		c.Worker.FFmpegBinary = defaultFFmpegBinary
	}
	c.Worker.FFprobeBinary = strings.TrimSpace(c.Worker.FFprobeBinary)
	if value, ok := os.LookupEnv("FFARM_FFPROBE"); ok && strings.TrimSpace(value) != "" {
		c.Worker.FFprobeBinary = strings.TrimSpace(value)
	}
	if c.Worker.FFprobeBinary == "" {
		c.Worker.FFprobeBinary = defaultFFprobeBinary
	}
	if strings.TrimSpace(c.Worker.ScratchDir) == "" {
		c.Worker.ScratchDir = defaultScratchDir
	}
	var err error
	if c.Worker.ScratchDir, err = expandPath(c.Worker.ScratchDir); err != nil {
		return fmt.Errorf("worker.scratch_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	if !c.Storage.Journal {
		return nil
	}
	if strings.TrimSpace(c.Storage.JournalPath) == "" {
		c.Storage.JournalPath = filepath.Join(c.Master.StateDir, defaultJournalFile)
	}
	var err error
	if c.Storage.JournalPath, err = expandPath(c.Storage.JournalPath); err != nil {
		return fmt.Errorf("storage.journal_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatch() error {
	var err error
	if c.Watch.Dir, err = expandPath(strings.TrimSpace(c.Watch.Dir)); err != nil {
		return fmt.Errorf("watch.dir: %w", err)
	}
	if c.Watch.OutputDir, err = expandPath(strings.TrimSpace(c.Watch.OutputDir)); err != nil {
		return fmt.Errorf("watch.output_dir: %w", err)
	}
	c.Watch.Container = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Watch.Container)), ".")
	if c.Watch.Container == "" {
		c.Watch.Container = defaultWatchContainer
	}
	if len(c.Watch.Extensions) == 0 {
		c.Watch.Extensions = append([]string(nil), defaultWatchExtensions...)
	}
	exts := make([]string, 0, len(c.Watch.Extensions))
	for _, ext := range c.Watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Watch.Extensions = exts
	if c.Watch.SettleTime == 0 {
		c.Watch.SettleTime = defaultWatchSettleTime
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("FFARM_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	var err error
	if c.Logging.Dir, err = expandPath(strings.TrimSpace(c.Logging.Dir)); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}
