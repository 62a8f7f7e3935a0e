package tool

import (
	"fmt"
	"time"

	"offsite-go/internal/config"
	"offsite-go/internal/offsite"
)

// NewClientFromConfig creates a ToolClient implementation based on the tool config type.
func NewClientFromConfig(cfg config.ToolConfig, logger offsite.Logger) (offsite.ToolClient, error) {
	switch cfg.Type {
	case "exec":
		if cfg.Binary == "" {
			return nil, fmt.Errorf("binary required for exec tool")
		}
		delay := time.Duration(cfg.RetryDelayMS) * time.Millisecond
		return NewClient(cfg.Binary, ExecRunner{}, logger, WithRetry(cfg.RetryAttempts, delay)), nil
	case "memory":
		return NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown tool type: %s", cfg.Type)
	}
}
