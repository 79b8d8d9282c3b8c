package main

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/pkg/errors"
	"subforge/internal/pkg/logger"
	"subforge/internal/render/redischannel"
)

type commandContext struct {
	configFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevel *string) *commandContext {
	return &commandContext{configFlag: configFlag, logLevel: logLevel}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = &cfg
	})
	return c.config, c.configErr
}

// logger writes text diagnostics to the command's stderr.
func (c *commandContext) logger(cmd *cobra.Command) *logger.Logger {
	level := "warn"
	if c.logLevel != nil && *c.logLevel != "" {
		level = *c.logLevel
	}
	return logger.New(logger.Config{
		Level:       level,
		Format:      "text",
		Output:      cmd.ErrOrStderr(),
		ServiceName: "subforge-cli",
	})
}

// withRedis connects to the configured Redis and hands fn the render channel.
func (c *commandContext) withRedis(ctx context.Context, cmd *cobra.Command, fn func(*redischannel.Channel) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.Render.Transport != config.TransportRedis {
		return errors.ValidationField("render.transport", "the CLI talks to the renderer over redis")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	ch := redischannel.New(rdb, redischannel.Config{
		QueueName:     cfg.Render.QueueName,
		EventsChannel: cfg.Render.EventsChannel,
		CancelChannel: cfg.Render.CancelChannel,
	}, c.logger(cmd))
	if err := ch.Ping(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "cli.redis", "connect to redis").
			WithField("addr", cfg.Redis.Addr)
	}
	return fn(ch)
}
