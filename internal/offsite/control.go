package offsite

// ControlRecord is the per-asset offsite state written after a send.
// Interval mirrors the asset's policy at the time of the send; the asset's
// replication settings remain authoritative.
type ControlRecord struct {
	LatestOffsiteSnapshot int64 `json:"latestOffsiteSnapshot"`
	Interval              int64 `json:"interval"`
}

// ControlStore persists offsite control records.
type ControlStore interface {
	// LoadControl returns the record for an asset, or nil if none exists yet.
	LoadControl(assetKey string) (*ControlRecord, error)

	// SaveControl replaces the record for an asset.
	SaveControl(assetKey string, record *ControlRecord) error
}

// PauseMarkers stores the declared per-asset pause state. A present marker
// means the asset is paused; it is the source of truth for reconciliation.
type PauseMarkers interface {
	IsPaused(assetKey string) (bool, error)
	SetPaused(assetKey string) error
	ClearPaused(assetKey string) error
}
