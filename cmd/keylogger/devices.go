package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jullanggit/keylogger/internal/config"
	"github.com/jullanggit/keylogger/internal/keystroke"
	"github.com/jullanggit/keylogger/internal/layout"
)

func newDevicesCommand(rootOpts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List input devices; * marks the one run would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			devices, err := keystroke.ListDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}

			sel := keystroke.Selector{
				Path:         cfg.Device.Path,
				Name:         cfg.Device.Name,
				NameContains: cfg.Device.NameContains,
			}
			selected, selErr := keystroke.Select(devices, sel)

			w := cmd.OutOrStdout()
			header(w, "input devices (selector: %s)", sel)
			for _, d := range devices {
				if !d.Keyboard && !all {
					continue
				}
				mark := " "
				if selErr == nil && d.Path == selected.Path {
					mark = "*"
				}
				okColor.Fprintf(w, "%s ", mark)
				fmt.Fprintf(w, "%-20s %s", d.Path, d.Name)
				if !d.Keyboard {
					dimColor.Fprint(w, "  (no keys)")
				}
				fmt.Fprintln(w)
			}
			if selErr != nil {
				warnColor.Fprintf(w, "no device matches: %v\n", selErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include devices without letter keys")
	return cmd
}

func newLayoutsCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List built-in keymaps; * marks the configured one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.configPath)
			if err != nil {
				return err
			}
			configured := cfg.Layout.Layout
			if cfg.Layout.Variant != "" {
				configured += "(" + cfg.Layout.Variant + ")"
			}

			w := cmd.OutOrStdout()
			for _, id := range layout.Available() {
				name, variant, _ := strings.Cut(id, "(")
				k, err := layout.Builtin(name, strings.TrimSuffix(variant, ")"))
				if err != nil {
					return err
				}
				mark := " "
				if id == configured && cfg.Layout.File == "" {
					mark = "*"
				}
				okColor.Fprintf(w, "%s ", mark)
				fmt.Fprintf(w, "%-10s ", id)
				dimColor.Fprintln(w, k.Description)
			}
			return nil
		},
	}
}
