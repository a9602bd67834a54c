//go:build !linux

package daemon

func setProcTitle(name string) {}
