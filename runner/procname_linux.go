package runner

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// OSProcessNamer sets the kernel task name with prctl(PR_SET_NAME). The
// kernel keeps at most 15 bytes.
type OSProcessNamer struct{}

func (OSProcessNamer) SetProcessName(name string) error {
	if len(name) > 15 {
		name = name[:15]
	}
	p, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}
