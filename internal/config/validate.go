package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMaster(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateMaster() error {
	if c.Master.Port <= 0 || c.Master.Port > 65535 {
		return fmt.Errorf("master.port must be between 1 and 65535, got %d", c.Master.Port)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.RetryCeiling < 1 {
		return errors.New("scheduler.retry_ceiling must be at least 1")
	}
	if c.Scheduler.HeartbeatTimeout < 1 {
		return errors.New("scheduler.heartbeat_timeout must be positive")
	}
	if c.Scheduler.SweepInterval < 1 {
		return errors.New("scheduler.sweep_interval must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	parsed, err := url.Parse(c.Worker.MasterURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("worker.master_url %q must be an absolute http(s) URL", c.Worker.MasterURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("worker.master_url scheme must be http or https, got %q", parsed.Scheme)
	}
	if c.Worker.HeartbeatInterval < 1 {
		return errors.New("worker.heartbeat_interval must be positive")
	}
	if c.Worker.PollInterval < 1 {
		return errors.New("worker.poll_interval must be positive")
	}
	if c.Worker.RequestTimeout < 1 {
		return errors.New("worker.request_timeout must be positive")
	}
	// A worker that heartbeats slower than the master's timeout is swept while healthy.
	if c.Worker.HeartbeatInterval >= c.Scheduler.HeartbeatTimeout {
		return fmt.Errorf("worker.heartbeat_interval (%ds) must be shorter than scheduler.heartbeat_timeout (%ds)",
			c.Worker.HeartbeatInterval, c.Scheduler.HeartbeatTimeout)
	}
	switch c.Worker.Encoder {
	case EncoderFFmpeg, EncoderDrapto:
	default:
		return fmt.Errorf("worker.encoder must be %q or %q, got %q", EncoderFFmpeg, EncoderDrapto, c.Worker.Encoder)
	}
	if c.Worker.MinFreeGiB < 0 {
		return errors.New("worker.min_free_gib must be non-negative")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if !c.Watch.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Watch.Dir) == "" {
		return errors.New("watch.dir must be set when watch.enabled is true")
	}
	if strings.TrimSpace(c.Watch.OutputDir) == "" {
		return errors.New("watch.output_dir must be set when watch.enabled is true")
	}
	if c.Watch.Dir == c.Watch.OutputDir {
		return errors.New("watch.output_dir must differ from watch.dir")
	}
	if c.Watch.SettleTime < 0 {
		return errors.New("watch.settle_time must be non-negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	u, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console, or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
