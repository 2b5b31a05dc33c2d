package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jullanggit/keylogger/internal/config"
)

func newConfigCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or show the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.configPath
			if path == "" {
				path = config.ConfigPath()
			}
			_, created, err := config.LoadOrCreate(path)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if created {
				okColor.Fprint(w, "created ")
			} else {
				dimColor.Fprint(w, "exists  ")
			}
			fmt.Fprintln(w, path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			data, err := cfg.EncodeTOML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}
