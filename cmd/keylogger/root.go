package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jullanggit/keylogger/internal/config"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	noColor    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "keylogger",
		Short: "Count the characters and character sequences you type",
		Long: `keylogger records which characters, pairs and triples of characters
you type, for keyboard layout and typing analysis. Only counts are stored,
never the order in which text was typed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				disableColor()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: "+config.ConfigPath()+")")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "directory holding the gram files")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newDevicesCommand(opts))
	cmd.AddCommand(newLayoutsCommand(opts))
	cmd.AddCommand(newTopCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

// loadConfig reads and validates the configuration, then applies the
// global flags on top of it.
func loadConfig(opts *rootOptions) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	cfg = cfg.Clone()
	if opts.dataDir != "" {
		cfg.Storage.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return loader, cfg, nil
}
