//go:build !linux

package evdev

import "context"

// Start always fails outside linux.
func (s *Source) Start(context.Context) error {
	return ErrUnsupported
}
