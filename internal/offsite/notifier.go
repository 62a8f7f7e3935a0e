package offsite

import "context"

// Notifier reports pause state changes to the remote management service.
type Notifier interface {
	// DevicePaused reports the hours until replication resumes; 0 means resumed.
	DevicePaused(ctx context.Context, hours int) error
	AssetPaused(ctx context.Context, assetKey string) error
	AssetResumed(ctx context.Context, assetKey string) error
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

func (NopNotifier) DevicePaused(context.Context, int) error    { return nil }
func (NopNotifier) AssetPaused(context.Context, string) error  { return nil }
func (NopNotifier) AssetResumed(context.Context, string) error { return nil }
