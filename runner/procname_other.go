//go:build !linux

package runner

// OSProcessNamer does nothing on platforms without a settable task name.
type OSProcessNamer struct{}

func (OSProcessNamer) SetProcessName(string) error { return nil }
