//go:build !giouring
// +build !giouring

package reactor

import "fmt"

// NewUringNotifier is available when built with -tags giouring.
func NewUringNotifier(entries uint32) (Notifier, error) {
	return nil, fmt.Errorf("reactor: giouring not enabled; build with -tags giouring")
}
