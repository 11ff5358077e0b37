package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/observability/logging"
	"github.com/joseph-ayodele/receipts-intake/internal/server"
)

type commandContext struct {
	configFlag *string
	targetFlag *string
	appFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *common.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*common.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = common.LoadConfig(strings.TrimSpace(*c.configFlag))
	})
	return c.config, c.configErr
}

func (c *commandContext) target() (string, error) {
	if t := strings.TrimSpace(*c.targetFlag); t != "" {
		return t, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Server.Target, nil
}

func (c *commandContext) withClient(fn func(*server.Client) error) error {
	target, err := c.target()
	if err != nil {
		return err
	}
	client, err := server.Dial(target, *c.appFlag)
	if err != nil {
		return fmt.Errorf("connect to intaked at %s: %w", target, err)
	}
	defer client.Close()
	return fn(client)
}

// logger writes to stderr so command output stays parseable.
func (c *commandContext) logger(stderr io.Writer) *slog.Logger {
	level, format := "warn", "text"
	if cfg, err := c.ensureConfig(); err == nil && cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	return logging.NewWithWriter(stderr, "intakectl", level, format)
}

func newRootCommand() *cobra.Command {
	var (
		configFlag string
		targetFlag string
		appFlag    string
		jsonFlag   bool
	)
	ctx := &commandContext{configFlag: &configFlag, targetFlag: &targetFlag, appFlag: &appFlag, jsonFlag: &jsonFlag}

	rootCmd := &cobra.Command{
		Use:           "intakectl",
		Short:         "Inspect and drive the receipt intake daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "", "intaked gRPC address (defaults to server.target)")
	rootCmd.PersistentFlags().StringVar(&appFlag, "app", "intakectl", "Calling application id sent with requests")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newItemCommand(ctx))
	rootCmd.AddCommand(newReviewCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newTemplatesCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}
