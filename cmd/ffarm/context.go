package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ffarm/internal/api"
	"ffarm/internal/config"
)

type commandContext struct {
	configFlag *string
	masterFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag, masterFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		masterFlag: masterFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) masterURL() string {
	if c.masterFlag != nil {
		if url := strings.TrimSpace(*c.masterFlag); url != "" {
			return url
		}
	}
	if c.config != nil {
		return c.config.Worker.MasterURL
	}
	return ""
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) client() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(c.masterURL(), cfg.Master.APIToken, cfg.RequestTimeout())
}

// withClient runs fn against the master and rewrites connection failures
// into an actionable message.
func (c *commandContext) withClient(fn func(*api.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		if api.IsUnavailable(err) {
			return fmt.Errorf("connect to master at %s: unreachable; start it with `ffarm master` or pass --master", client.BaseURL())
		}
		return err
	}
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
