package keystroke

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Device describes an input device listed by the kernel.
type Device struct {
	Name     string
	Path     string // /dev/input/eventN
	Phys     string
	Bus      string
	Keyboard bool
}

// Selector picks one device. The first non-empty field wins, checked in
// the order Path, Name, NameContains.
type Selector struct {
	// Path opens this event device directly
	Path string

	// Name matches a device name exactly
	Name string

	// NameContains matches a substring of the device name
	NameContains string
}

// String describes the selector for log and error messages.
func (s Selector) String() string {
	switch {
	case s.Path != "":
		return fmt.Sprintf("path %q", s.Path)
	case s.Name != "":
		return fmt.Sprintf("name %q", s.Name)
	case s.NameContains != "":
		return fmt.Sprintf("name containing %q", s.NameContains)
	default:
		return "first keyboard"
	}
}

// Match reports whether d is selected.
func (s Selector) Match(d Device) bool {
	switch {
	case s.Path != "":
		return d.Path == s.Path
	case s.Name != "":
		return d.Name == s.Name
	case s.NameContains != "":
		return strings.Contains(d.Name, s.NameContains)
	default:
		return d.Keyboard
	}
}

// Select returns the first selected device.
func Select(devices []Device, sel Selector) (Device, error) {
	for _, d := range devices {
		if d.Path != "" && sel.Match(d) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, sel)
}

// ParseInputDevices parses the format of /proc/bus/input/devices. Only
// devices with an eventN handler are returned.
func ParseInputDevices(r io.Reader) ([]Device, error) {
	devices := make([]Device, 0)
	scanner := bufio.NewScanner(r)

	var current Device
	flush := func() {
		if current.Path != "" {
			devices = append(devices, current)
		}
		current = Device{}
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		// I: Bus=0003 Vendor=046d Product=c52b Version=0111
		case strings.HasPrefix(line, "I:"):
			for _, part := range strings.Fields(line) {
				if bus, ok := strings.CutPrefix(part, "Bus="); ok {
					current.Bus = bus
				}
			}

		// N: Name="Logitech USB Receiver"
		case strings.HasPrefix(line, "N: Name="):
			current.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)

		// P: Phys=usb-0000:00:14.0-2/input0
		case strings.HasPrefix(line, "P: Phys="):
			current.Phys = strings.TrimPrefix(line, "P: Phys=")

		// H: Handlers=sysrq kbd leds event3
		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(h, "event") {
					current.Path = "/dev/input/" + h
				}
			}

		// B: KEY=... (capability bitmap, long for keyboards)
		case strings.HasPrefix(line, "B: KEY="):
			if len(strings.TrimPrefix(line, "B: KEY=")) > 20 {
				current.Keyboard = true
			}

		case line == "":
			flush()
		}
	}
	// Last block may lack a trailing blank line
	flush()

	return devices, scanner.Err()
}
