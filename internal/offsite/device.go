package offsite

import "context"

// Device configuration keys read by the engine.
const (
	KeyLocalPause          = "offsite.pauseResumeTime"
	KeyCloudPause          = "offsite.cloudPause"
	KeyMaintenanceMode     = "maintenance.enabled"
	KeyBillingLocalOnly    = "billing.localOnly"
	KeyBillingOutOfService = "billing.outOfService"
	KeyBackupOffset        = "backup.offsetMinutes"
)

// DeviceConfig is the device-wide key/value configuration store.
type DeviceConfig interface {
	// Get returns the value for key and whether it is set.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Clear removes key. Clearing a missing key is not an error.
	Clear(key string) error
}

// Billing reports the device's service plan state.
type Billing interface {
	IsLocalOnly(ctx context.Context) (bool, error)
	IsOutOfService(ctx context.Context) (bool, error)
}
