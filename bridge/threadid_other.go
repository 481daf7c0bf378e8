//go:build !linux && !windows

package bridge

import (
	"bytes"
	"runtime"
	"strconv"
)

// osThreadID falls back to the goroutine id. Attached goroutines are locked
// to their OS thread, so the two identify the same thread while attached.
func osThreadID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.Fields(bytes.TrimPrefix(buf[:n], []byte("goroutine ")))
	if len(field) == 0 {
		return 0
	}
	id, _ := strconv.Atoi(string(field[0]))
	return id
}
