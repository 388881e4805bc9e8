package main

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/config"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/logging"
)

type commandContext struct {
	configFlag  *string
	envFileFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if path := strings.TrimSpace(*c.envFileFlag); path != "" {
			config.LoadDotEnv(path)
		} else {
			config.LoadDotEnv()
		}

		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			env, err := config.LoadEnv()
			if err != nil {
				c.configErr = err
				return
			}
			path = env.ConfigPath
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cmd *cobra.Command) zerolog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.New("info", "console", cmd.ErrOrStderr())
	}
	return logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
}

func newRootCommand() *cobra.Command {
	var configFlag, envFileFlag string
	ctx := &commandContext{configFlag: &configFlag, envFileFlag: &envFileFlag}

	rootCmd := &cobra.Command{
		Use:           "channel-digest",
		Short:         "Summarize new uploads of YouTube channels into periodic email digests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $DIGEST_CONFIG or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Load environment variables from this file (default .env)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newStateCommand(ctx))

	return rootCmd
}
