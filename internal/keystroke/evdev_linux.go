//go:build linux

package keystroke

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inputEventSize is sizeof(struct input_event) on 64-bit Linux:
// struct timeval (16 bytes), __u16 type, __u16 code, __s32 value.
const inputEventSize = 24

const (
	evKey = 0x01

	// EVIOCGNAME(len) = _IOC(_IOC_READ, 'E', 0x06, len)
	iocRead    = 2
	deviceName = 256
	eviocgname = iocRead<<30 | deviceName<<16 | 'E'<<8 | 0x06
)

// EvdevSource reads key events from an evdev character device.
type EvdevSource struct {
	path string
	name string
	f    *os.File
	buf  [inputEventSize]byte

	stop func() bool
}

// OpenEvdev opens the device at path. The device is closed when ctx is
// cancelled, which unblocks a pending Next.
func OpenEvdev(ctx context.Context, path string) (*EvdevSource, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, &SourceError{Device: path, Err: err}
	}

	name, err := readDeviceName(f)
	if err != nil {
		f.Close()
		return nil, &SourceError{Device: path, Err: fmt.Errorf("EVIOCGNAME: %w", err)}
	}

	s := &EvdevSource{path: path, name: name, f: f}
	s.stop = context.AfterFunc(ctx, func() { f.Close() })
	return s, nil
}

// readDeviceName queries the kernel for the device name. The descriptor is
// accessed through SyscallConn so it stays in non-blocking mode and Close
// can interrupt a read.
func readDeviceName(f *os.File) (string, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return "", err
	}

	var buf [deviceName]byte
	var errno unix.Errno
	err = raw.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, eviocgname, uintptr(unsafe.Pointer(&buf[0])))
	})
	if err != nil {
		return "", err
	}
	if errno != 0 {
		return "", errno
	}
	return unix.ByteSliceToString(buf[:]), nil
}

// Name returns the kernel's name for the device.
func (s *EvdevSource) Name() string {
	return s.name
}

// Path returns the device path.
func (s *EvdevSource) Path() string {
	return s.path
}

// Next returns the next key event, skipping other event types.
func (s *EvdevSource) Next(ctx context.Context) (Event, error) {
	for {
		if _, err := io.ReadFull(s.f, s.buf[:]); err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, &SourceError{Device: s.path, Err: err}
		}

		if ev, ok := parseEvent(s.buf[:]); ok {
			return ev, nil
		}
	}
}

// Close closes the device.
func (s *EvdevSource) Close() error {
	s.stop()
	if err := s.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// parseEvent decodes one input_event, reporting ok only for EV_KEY events.
func parseEvent(b []byte) (Event, bool) {
	if len(b) < inputEventSize {
		return Event{}, false
	}
	if binary.LittleEndian.Uint16(b[16:18]) != evKey {
		return Event{}, false
	}

	value := int32(binary.LittleEndian.Uint32(b[20:24]))
	if value < 0 || value > int32(Repeat) {
		return Event{}, false
	}

	sec := int64(binary.LittleEndian.Uint64(b[0:8]))
	usec := int64(binary.LittleEndian.Uint64(b[8:16]))
	return Event{
		Code:       binary.LittleEndian.Uint16(b[18:20]),
		Transition: Transition(value),
		Time:       time.Unix(sec, usec*int64(time.Microsecond)),
	}, true
}
