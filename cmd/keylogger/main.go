// keylogger - personal typing statistics
//
// keylogger reads a keyboard through evdev, decodes key codes with an xkb
// style keymap and counts every 1-, 2- and 3-character sequence typed.
// Counts are checkpointed to plain text files in the data directory.
//
//	keylogger run           Run the recording daemon
//	keylogger devices       List input devices
//	keylogger layouts       List built-in keymaps
//	keylogger top           Show the most frequent grams
//	keylogger verify        Check the gram files
//	keylogger export        Export grams as JSON, YAML or SQLite
//	keylogger config        Create or show the configuration
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
