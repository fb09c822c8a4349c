//go:build !linux && !(darwin && cgo)

package permission

type unsupported struct{}

// NewPlatformOracle returns an oracle that always denies.
func NewPlatformOracle() Oracle { return unsupported{} }

func (unsupported) Granted() (bool, string) {
	return false, "global shortcuts are not supported on this platform"
}

// Prompt reports false.
func Prompt() bool { return false }
