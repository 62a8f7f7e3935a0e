package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// RecordingNotifier records notifications as strings like
// "device 24", "paused a1" and "resumed a1".
type RecordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *RecordingNotifier) DevicePaused(_ context.Context, hours int) error {
	n.add(fmt.Sprintf("device %d", hours))
	return nil
}

func (n *RecordingNotifier) AssetPaused(_ context.Context, assetKey string) error {
	n.add("paused " + assetKey)
	return nil
}

func (n *RecordingNotifier) AssetResumed(_ context.Context, assetKey string) error {
	n.add("resumed " + assetKey)
	return nil
}

// Events returns the recorded notifications in order.
func (n *RecordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.events)
}

func (n *RecordingNotifier) add(ev string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}
