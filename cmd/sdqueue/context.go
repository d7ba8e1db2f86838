package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"sdqueue/internal/config"
	"sdqueue/internal/daemon"
	"sdqueue/internal/ipc"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
	"sdqueue/internal/queueaccess"
	"sdqueue/internal/registry"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withController runs fn against the running daemon when its socket answers,
// otherwise against the state directory opened under the instance lock.
func (c *commandContext) withController(cmd *cobra.Command, fn func(queueaccess.Access) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	session, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return ipc.Dial(cfg.SocketPath()) },
		func() (*daemon.Daemon, error) { return openOffline(cmd.Context(), cfg) },
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

func openOffline(ctx context.Context, cfg *config.Config) (*daemon.Daemon, error) {
	reg, err := registry.FromConfig(cfg, logging.NewNop())
	if err != nil {
		return nil, err
	}
	d, err := daemon.New(cfg, daemon.Dependencies{Registry: reg, Logger: logging.NewNop()})
	if err != nil {
		return nil, err
	}
	if err := d.Open(ctx); err != nil {
		if errors.Is(err, daemon.ErrLocked) {
			return nil, fmt.Errorf("%w; the daemon control socket %s is not answering", err, cfg.SocketPath())
		}
		return nil, err
	}
	return d, nil
}

// withClient runs fn against the running daemon. ok is false when no daemon
// is listening.
func (c *commandContext) withClient(fn func(*ipc.Client) error) (bool, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return false, err
	}
	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		if queueaccess.NoDaemon(err) {
			return false, nil
		}
		return false, fmt.Errorf("connect to daemon: %w", err)
	}
	defer client.Close()
	return true, fn(client)
}

// withStore runs fn against a read-only snapshot of the job table.
func (c *commandContext) withStore(cmd *cobra.Command, fn func(*jobs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, closeFn, err := daemon.OpenReadOnly(cmd.Context(), cfg, logging.NewNop())
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(store)
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
