//go:build linux

package daemon

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setProcTitle renames the worker so it is identifiable in ps output.
// The kernel truncates the name to 15 bytes.
func setProcTitle(name string) {
	buf := append([]byte(name), 0)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}
