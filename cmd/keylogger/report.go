package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jullanggit/keylogger/internal/export"
	"github.com/jullanggit/keylogger/internal/ngram"
	"github.com/jullanggit/keylogger/internal/security"
	"github.com/jullanggit/keylogger/internal/store"
)

func newTopCommand(rootOpts *rootOptions) *cobra.Command {
	var (
		limit int
		order int
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the most frequent grams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if order < 0 || order > ngram.MaxOrder {
				return fmt.Errorf("--order must be between 1 and %d", ngram.MaxOrder)
			}
			_, cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			snap, err := store.ReadSnapshot(cfg.DataDir())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for n := 1; n <= ngram.MaxOrder; n++ {
				if order != 0 && n != order {
					continue
				}
				printTop(w, snap, n, limit)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "number", "n", 20, "number of grams per order (0 for all)")
	cmd.Flags().IntVar(&order, "order", 0, "only show grams of this length (1-3)")
	return cmd
}

func printTop(w io.Writer, snap ngram.Snapshot, n, limit int) {
	total := snap.Total(n)
	header(w, "%d-grams (%d distinct, %d total)", n, snap.Len(n), total)

	entries := export.Top(snap.Order(n), limit)
	if len(entries) == 0 {
		dimColor.Fprintln(w, "  (none)")
		return
	}
	for i, e := range entries {
		share := 0.0
		if total > 0 {
			share = float64(e.Count) / float64(total) * 100
		}
		fmt.Fprintf(w, "  %4d. %-10s %12d ", i+1, displayGram(e.Gram), e.Count)
		dimColor.Fprintf(w, "%6.2f%%\n", share)
	}
}

func newVerifyCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Decode the gram files and report their totals",
		Long: `Verify decodes each gram file in the data directory, reports its size and
total, and checks that longer grams never outnumber shorter ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			return verifyDir(cmd.OutOrStdout(), cfg.DataDir())
		},
	}
}

// errVerify reports that verify found a problem it already printed.
var errVerify = errors.New("verification failed")

func verifyDir(w io.Writer, dir string) error {
	header(w, "%s", dir)

	var (
		totals [ngram.MaxOrder]uint64
		failed bool
	)
	for n := 1; n <= ngram.MaxOrder; n++ {
		path := filepath.Join(dir, store.FileName(n))
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			warnColor.Fprint(w, "  none  ")
			fmt.Fprintf(w, "%s not written yet\n", store.FileName(n))
			continue
		}
		if err != nil {
			status(w, false, "%s: %v", store.FileName(n), err)
			failed = true
			continue
		}
		counts, err := ngram.DecodeOrder(f, n)
		f.Close()
		if err != nil {
			var ferr *ngram.FormatError
			if errors.As(err, &ferr) {
				ferr.File = store.FileName(n)
			}
			status(w, false, "%v", err)
			failed = true
			continue
		}
		totals[n-1] = sumCounts(counts)
		status(w, true, "%s: %d distinct, %d total", store.FileName(n), len(counts), totals[n-1])
	}

	// Every n-gram ends a window that also ends an (n-1)-gram.
	for n := 2; n <= ngram.MaxOrder; n++ {
		if totals[n-1] > totals[n-2] {
			status(w, false, "%d-gram total %d exceeds %d-gram total %d", n, totals[n-1], n-1, totals[n-2])
			failed = true
		}
	}

	if failed {
		return errVerify
	}
	return nil
}

func sumCounts(m map[string]uint64) uint64 {
	return ngram.NewSnapshot(m, nil, nil).Total(1)
}

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	var (
		formatName string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all grams as JSON, YAML or SQLite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			_, cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			snap, err := store.ReadSnapshot(cfg.DataDir())
			if err != nil {
				return err
			}
			now := time.Now()

			if format == export.FormatSQLite {
				if out == "" || out == "-" {
					return errors.New("sqlite export needs --out")
				}
				return export.WriteSQLite(cmd.Context(), out, snap, now)
			}

			if out == "" || out == "-" {
				return export.WriteDocument(cmd.OutOrStdout(), format, snap, now)
			}
			// Abs resolves ".." components, which the secure writer rejects.
			path, err := filepath.Abs(out)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			fw, err := security.NewSecureFileWriter(path, security.PermSecretFile)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if err := export.WriteDocument(fw, format, snap, now); err != nil {
				fw.Abort()
				return err
			}
			return fw.Commit()
		},
	}

	cmd.Flags().StringVar(&formatName, "format", "json", "output format (json|yaml|sqlite)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}
