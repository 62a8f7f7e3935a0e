// Package notify reports pause state changes to the remote management service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"offsite-go/internal/config"
	"offsite-go/internal/offsite"
)

// Event names sent to the management service.
const (
	EventDevicePaused = "device.paused"
	EventAssetPaused  = "asset.paused"
	EventAssetResumed = "asset.resumed"
)

// Event is the JSON body of one notification.
type Event struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"deviceId"`
	Event    string    `json:"event"`
	AssetKey string    `json:"assetKey,omitempty"`
	Hours    *int      `json:"hours,omitempty"`
	SentAt   time.Time `json:"sentAt"`
}

// HTTPNotifier posts events to an endpoint.
type HTTPNotifier struct {
	endpoint string
	deviceID string
	client   *http.Client
	clock    offsite.Clock
	ids      offsite.IDGenerator
}

// NewHTTPNotifier creates an HTTPNotifier. A nil client uses a client with a 10s timeout.
func NewHTTPNotifier(endpoint, deviceID string, client *http.Client, clock offsite.Clock, ids offsite.IDGenerator) *HTTPNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clock == nil {
		clock = offsite.RealClock{}
	}
	if ids == nil {
		ids = offsite.UUIDGenerator{}
	}
	return &HTTPNotifier{endpoint: endpoint, deviceID: deviceID, client: client, clock: clock, ids: ids}
}

func (n *HTTPNotifier) DevicePaused(ctx context.Context, hours int) error {
	return n.post(ctx, Event{Event: EventDevicePaused, Hours: &hours})
}

func (n *HTTPNotifier) AssetPaused(ctx context.Context, assetKey string) error {
	return n.post(ctx, Event{Event: EventAssetPaused, AssetKey: assetKey})
}

func (n *HTTPNotifier) AssetResumed(ctx context.Context, assetKey string) error {
	return n.post(ctx, Event{Event: EventAssetResumed, AssetKey: assetKey})
}

func (n *HTTPNotifier) post(ctx context.Context, ev Event) error {
	ev.ID = n.ids.New()
	ev.DeviceID = n.deviceID
	ev.SentAt = n.clock.Now().UTC()

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", ev.Event, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s event: %w", ev.Event, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sending %s event: unexpected status %s", ev.Event, resp.Status)
	}
	return nil
}

// LogNotifier writes events to the log instead of sending them.
type LogNotifier struct {
	logger offsite.Logger
}

func NewLogNotifier(logger offsite.Logger) *LogNotifier {
	if logger == nil {
		logger = offsite.NewNopLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) DevicePaused(_ context.Context, hours int) error {
	n.logger.Info("notify", "event", EventDevicePaused, "hours", hours)
	return nil
}

func (n *LogNotifier) AssetPaused(_ context.Context, assetKey string) error {
	n.logger.Info("notify", "event", EventAssetPaused, "asset", assetKey)
	return nil
}

func (n *LogNotifier) AssetResumed(_ context.Context, assetKey string) error {
	n.logger.Info("notify", "event", EventAssetResumed, "asset", assetKey)
	return nil
}

// NewNotifierFromConfig creates a Notifier implementation based on the notify config type.
func NewNotifierFromConfig(cfg config.NotifyConfig, deviceID string, logger offsite.Logger) (offsite.Notifier, error) {
	switch cfg.Type {
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("endpoint required for http notifier")
		}
		return NewHTTPNotifier(cfg.Endpoint, deviceID, nil, nil, nil), nil
	case "log", "":
		return NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown notify type: %s", cfg.Type)
	}
}

// Compile-time checks
var (
	_ offsite.Notifier = (*HTTPNotifier)(nil)
	_ offsite.Notifier = (*LogNotifier)(nil)
)
