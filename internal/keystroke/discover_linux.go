//go:build linux

package keystroke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	procInputDevices = "/proc/bus/input/devices"
	devInputDir      = "/dev/input"
)

// ListDevices returns the input devices known to the kernel.
func ListDevices() ([]Device, error) {
	f, err := os.Open(procInputDevices)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseInputDevices(f)
}

// FindDevice resolves sel to a device. A Path selector is used as is. With
// wait set, FindDevice blocks until a matching device appears or ctx is
// cancelled.
func FindDevice(ctx context.Context, sel Selector, wait bool, logger *slog.Logger) (Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if sel.Path != "" && !wait {
		return Device{Path: sel.Path}, nil
	}

	dev, err := findOnce(sel)
	if err == nil || !wait || !errors.Is(err, ErrDeviceNotFound) {
		return dev, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Device{}, fmt.Errorf("watch %s: %w", devInputDir, err)
	}
	defer watcher.Close()

	if err := watcher.Add(devInputDir); err != nil {
		return Device{}, fmt.Errorf("watch %s: %w", devInputDir, err)
	}

	logger.Info("waiting for input device", "selector", sel.String())

	// The device may have appeared between the first scan and Add
	if dev, err := findOnce(sel); err == nil {
		return dev, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Device{}, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return Device{}, errors.New("device watcher closed")
			}
			if !event.Has(fsnotify.Create) || !strings.Contains(event.Name, "event") {
				continue
			}

			// Wait for udev to apply permissions
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return Device{}, ctx.Err()
			}

			if dev, err := findOnce(sel); err == nil {
				logger.Info("input device appeared", "device", dev.Name, "path", dev.Path)
				return dev, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return Device{}, errors.New("device watcher closed")
			}
			logger.Warn("device watcher error", "error", err)
		}
	}
}

func findOnce(sel Selector) (Device, error) {
	if sel.Path != "" {
		if _, err := os.Stat(sel.Path); err != nil {
			if os.IsNotExist(err) {
				return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, sel)
			}
			return Device{}, err
		}
		return Device{Path: sel.Path}, nil
	}

	devices, err := ListDevices()
	if err != nil {
		return Device{}, err
	}
	return Select(devices, sel)
}
