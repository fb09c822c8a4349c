//go:build !linux && !(darwin && cgo)

package shortcut

type unsupportedBackend struct{}

// NewPlatformBackend returns a backend whose Install always fails.
func NewPlatformBackend() Backend { return unsupportedBackend{} }

func (unsupportedBackend) Install(func(uint32)) error       { return ErrNotSupported }
func (unsupportedBackend) Register(Binding) (uint32, error) { return 0, ErrNotSupported }
func (unsupportedBackend) Unregister(uint32) error          { return nil }
func (unsupportedBackend) Uninstall() error                 { return nil }
