package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/menta2k/coin-id/internal/config"
	"github.com/menta2k/coin-id/internal/logging"
	"github.com/menta2k/coin-id/internal/session"
)

// defaultSessionID is the session used by the CLI when --session is not given.
const defaultSessionID = "cli"

type commandContext struct {
	configFlag   *string
	sessionFlag  *string
	dbFlag       *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger     *slog.Logger
	closeLog   func() error
	sessions   session.Repository
	sessionErr error
	sessOnce   sync.Once
}

func newCommandContext(configFlag, sessionFlag, dbFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		sessionFlag:  sessionFlag,
		dbFlag:       dbFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
		return strings.TrimSpace(*c.configFlag)
	}
	return config.GetConfigPath()
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if c.dbFlag != nil && strings.TrimSpace(*c.dbFlag) != "" {
			cfg.Storage.Driver = "sqlite"
			cfg.Storage.Path = strings.TrimSpace(*c.dbFlag)
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid config: %w", err)
			return
		}
		c.config = cfg

		level, _ := logging.ParseLevel(cfg.Logging.Level)
		c.logger, c.closeLog = logging.Setup(cfg.Logging.File, level)
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func (c *commandContext) repository() (session.Repository, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.sessOnce.Do(func() {
		c.sessions, c.sessionErr = session.Open(cfg.Storage.Driver, cfg.Storage.Path)
		if c.sessionErr != nil {
			c.sessionErr = fmt.Errorf("open session store: %w", c.sessionErr)
		}
	})
	return c.sessions, c.sessionErr
}

func (c *commandContext) sessionID() string {
	if c.sessionFlag != nil && strings.TrimSpace(*c.sessionFlag) != "" {
		return strings.TrimSpace(*c.sessionFlag)
	}
	return defaultSessionID
}

// withSession loads the current session, or starts one with the configured
// circle size and scale, and saves it after fn succeeds when save is true.
func (c *commandContext) withSession(ctx context.Context, save bool, fn func(*session.Session) error) error {
	repo, err := c.repository()
	if err != nil {
		return err
	}

	id := c.sessionID()
	sess, err := repo.Load(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = session.NewWithCalibration(id, *c.config.NewCalibration())
	case err != nil:
		return err
	}

	if err := fn(sess); err != nil {
		return err
	}
	if !save {
		return nil
	}
	if err := repo.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (c *commandContext) close() {
	if c.sessions != nil {
		if err := c.sessions.Close(); err != nil {
			c.log().Warn("close session store", "error", err)
		}
	}
	if c.closeLog != nil {
		_ = c.closeLog()
	}
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

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
