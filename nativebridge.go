package nativebridge

import (
	"github.com/wippyai/native-bridge/bridge"
	"github.com/wippyai/native-bridge/config"
	"github.com/wippyai/native-bridge/managed"
)

// New creates a bridge over a fresh managed heap.
func New(opts bridge.Options) (*bridge.Bridge, error) {
	return bridge.New(managed.NewHeap(), opts)
}

// Open creates a bridge configured from the options file at path.
func Open(path string) (*bridge.Bridge, error) {
	opts, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(opts)
}
