//go:build windows

package bridge

import "golang.org/x/sys/windows"

func osThreadID() int {
	return int(windows.GetCurrentThreadId())
}
