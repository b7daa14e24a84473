package socket

import (
	"sync"

	"github.com/vitalvas/gosock/pkg/neterr"
)

var netState struct {
	sync.Mutex
	initialized bool
}

// Initialize prepares the platform network stack for the process. It is
// idempotent and called implicitly by Create.
func Initialize() error {
	netState.Lock()
	defer netState.Unlock()

	if netState.initialized {
		return nil
	}
	if err := startup(); err != nil {
		return neterr.New(neterr.KindAllocation, "network initialize", err)
	}

	netState.initialized = true
	return nil
}

// Terminate releases the platform network stack. Sockets must be closed
// first. Calling it without Initialize is harmless.
func Terminate() {
	netState.Lock()
	defer netState.Unlock()

	if !netState.initialized {
		return
	}
	_ = cleanup()
	netState.initialized = false
}

// IsInitialized reports whether Initialize has run since the last Terminate.
func IsInitialized() bool {
	netState.Lock()
	defer netState.Unlock()
	return netState.initialized
}
