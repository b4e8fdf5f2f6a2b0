//go:build !windows && !linux

package probe

import "github.com/verte-zerg/rolens/internal/model"

// NewBackend returns a backend that reports ErrUnsupportedPlatform.
func NewBackend() Backend {
	return unsupportedBackend{}
}

type unsupportedBackend struct{}

func (unsupportedBackend) ListProcesses(string) ([]model.Process, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedBackend) ModuleBase(uint32, string) (uintptr, error) {
	return 0, ErrUnsupportedPlatform
}

func (unsupportedBackend) Open(uint32) (Memory, error) {
	return nil, ErrUnsupportedPlatform
}
