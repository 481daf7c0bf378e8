//go:build linux

package bridge

import "golang.org/x/sys/unix"

func osThreadID() int {
	return unix.Gettid()
}
