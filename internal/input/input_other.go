//go:build !linux && !(darwin && cgo)

package input

// NewPlatformInjector fails; there is no injector for this platform.
func NewPlatformInjector() (Injector, error) {
	return nil, ErrNotSupported
}
