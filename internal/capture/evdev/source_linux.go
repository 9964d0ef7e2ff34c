//go:build linux

package evdev

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds how long a reader waits before rechecking its context.
const pollTimeoutMs = 200

// Start opens every device and reads it on its own goroutine until Stop or
// ctx is done. Devices that cannot be opened are skipped with a warning.
func (s *Source) Start(ctx context.Context) error {
	devices := s.devices
	if len(devices) == 0 {
		found, err := Discover()
		if err != nil {
			return fmt.Errorf("failed to discover input devices: %w", err)
		}
		devices = found
	}

	var fds []int
	for _, path := range devices {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			s.log.Warn("Evdev: cannot open device", "device", path, "error", err.Error())
			continue
		}
		s.log.Debug("Evdev: reading device", "device", path)
		fds = append(fds, fd)
	}
	if len(fds) == 0 {
		return fmt.Errorf("%w (need read access to /dev/input, usually the 'input' group)", ErrNoDevices)
	}

	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	for _, fd := range fds {
		s.wg.Add(1)
		go func(fd int) {
			defer s.wg.Done()
			if err := s.readLoop(ctx, fd); err != nil {
				s.log.Error("Evdev: read loop stopped", "error", err.Error())
			}
		}(fd)
	}
	return nil
}

func (s *Source) readLoop(ctx context.Context, fd int) error {
	defer func() {
		if err := unix.Close(fd); err != nil {
			// Best-effort close of the device.
			_ = err
		}
	}()
	dec := newDecoder()
	buf := make([]byte, eventSize*64)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for ctx.Err() == nil {
		n, err := unix.Poll(fds, pollTimeoutMs)
		if errors.Is(err, unix.EINTR) || n == 0 {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to poll device: %w", err)
		}
		read, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read device: %w", err)
		}
		for off := 0; off+eventSize <= read; off += eventSize {
			if e, ok := dec.decode(parseRaw(buf[off : off+eventSize])); ok {
				s.feed.Publish(e)
			}
		}
	}
	return nil
}
