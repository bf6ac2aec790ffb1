//go:build !tinygo

package core

import "sync"

// State is the saved guard state on regular Go
type State uintptr

// Host ingress runs on reader goroutines, so the guard is a mutex
// rather than an interrupt mask.
var ingressMu sync.Mutex

// disableInterrupts enters the ingress critical section
func disableInterrupts() State {
	ingressMu.Lock()
	return 0
}

// restoreInterrupts leaves the ingress critical section
func restoreInterrupts(state State) {
	ingressMu.Unlock()
}
