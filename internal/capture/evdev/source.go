package evdev

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/verte-zerg/keyrhythm/internal/capture"
	"github.com/verte-zerg/keyrhythm/internal/logger"
)

const devicesPath = "/proc/bus/input/devices"

var (
	// ErrNoDevices is returned when no readable input device was found.
	ErrNoDevices = errors.New("no input devices found")
	// ErrUnsupported is returned on platforms without evdev.
	ErrUnsupported = errors.New("evdev capture is only available on linux")
)

// Source publishes events read from input devices. It implements capture.Source.
type Source struct {
	devices []string
	feed    *capture.Feed
	log     *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Source for devices. An empty list is resolved with Discover
// when the source starts.
func New(devices []string, log *logger.Logger) *Source {
	if log == nil {
		log = logger.Nop()
	}
	return &Source{devices: devices, feed: capture.NewFeed(), log: log}
}

// ParseDeviceList splits a comma-separated device setting.
func ParseDeviceList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Discover lists keyboard and pointer event devices.
func Discover() ([]string, error) {
	f, err := os.Open(devicesPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close after read.
			_ = cerr
		}
	}()
	devices := parseDevices(f)
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

// Subscribe implements capture.Source.
func (s *Source) Subscribe(h capture.Handler) func() {
	return s.feed.Subscribe(h)
}

// Stop ends every reader and waits for them to exit.
func (s *Source) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
