package history

import (
	"context"
	"errors"
	"time"
)

// Command sources.
const (
	SourceMQTT = "mqtt"
	SourceAPI  = "api"
)

// Command outcomes.
const (
	OutcomeSent   = "sent"
	OutcomeQueued = "queued"
	OutcomeFailed = "failed"
)

// ErrDeviceRequired is returned when a device id is missing.
var ErrDeviceRequired = errors.New("history: device id is required")

// Reading is one recorded apparatus attribute value.
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Attribute  string    `json:"attribute"`
	Value      any       `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CommandRecord is one consumer command and what happened to it.
type CommandRecord struct {
	ID            string         `json:"id"`
	DescriptorID  string         `json:"descriptor_id,omitempty"`
	Channel       string         `json:"channel"`
	Command       string         `json:"command"`
	Fields        map[string]any `json:"fields,omitempty"`
	Outcome       string         `json:"outcome"`
	TransactionID uint32         `json:"transaction_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	Source        string         `json:"source"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Repository stores and retrieves history.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// RecordReadings stores one row per attribute for a device.
	RecordReadings(ctx context.Context, deviceID string, attrs map[string]any) error

	// GetReadings returns a device's readings, newest first.
	GetReadings(ctx context.Context, deviceID string, limit int) ([]Reading, error)

	// RecordCommand stores a command. ID and CreatedAt are generated if empty.
	RecordCommand(ctx context.Context, rec *CommandRecord) error

	// ListCommands returns recent commands, newest first.
	ListCommands(ctx context.Context, limit int) ([]CommandRecord, error)

	// Prune deletes rows older than olderThan and returns how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
