package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/onesmart-bridge/internal/history"
	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// Gateway is the part of the gateway wrapper the bridge uses.
// *onesmart.Wrapper implements it.
type Gateway interface {
	Notifications(buffer int) (<-chan onesmart.UpdateTopic, func())
	Discovery() *onesmart.Discovery
	Cache() *onesmart.Cache
	Execute(t onesmart.CommandTemplate, value any) (uint32, error)
	SetUpdateFlag(flag onesmart.UpdateFlag) error
	Status() onesmart.Status
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher runs descriptor commands and refresh requests against the
// gateway. It is shared by the MQTT bridge and the HTTP API.
type Dispatcher struct {
	gw     Gateway
	repo   history.Repository
	logger Logger
}

// NewDispatcher creates a dispatcher. repo may be nil to skip command
// logging; logger may be nil.
func NewDispatcher(gw Gateway, repo history.Repository, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{gw: gw, repo: repo, logger: logger}
}

// Dispatch executes a command and returns its acknowledgement. It never
// blocks on the gateway: a command for a channel that is down is queued.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd CommandMessage) AckMessage {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	if cmd.DescriptorID == "" || cmd.Command == "" {
		return NewAckError(cmd, ErrCodeInvalidCommand, "descriptor and command are required")
	}

	desc, ok := d.gw.Discovery().Descriptor(cmd.DescriptorID)
	if !ok {
		return NewAckError(cmd, ErrCodeNotConfigured,
			fmt.Sprintf("descriptor %s not found", cmd.DescriptorID))
	}

	tmpl, err := desc.Template(cmd.Command)
	if err != nil {
		return NewAckError(cmd, ErrCodeInvalidCommand, err.Error())
	}
	if tmpl.HasPlaceholder() && cmd.Value == nil {
		return NewAckError(cmd, ErrCodeInvalidParameters,
			fmt.Sprintf("command %s needs a value", cmd.Command))
	}

	txID, err := d.gw.Execute(tmpl, cmd.Value)
	ack := ackFor(cmd, txID, err)
	if ack.Status == AckAccepted || ack.Status == AckQueued {
		d.refreshAfterWrite(desc)
	}

	d.logger.Info("command dispatched",
		"command_id", cmd.ID,
		"descriptor", cmd.DescriptorID,
		"command", cmd.Command,
		"status", ack.Status)

	d.record(ctx, cmd, tmpl, ack)
	return ack
}

// refreshAfterWrite queues a re-read of the state a write changed, so the
// new value reaches the cache without waiting for the poll rotation.
func (d *Dispatcher) refreshAfterWrite(desc onesmart.Descriptor) {
	var flag onesmart.UpdateFlag
	if desc.Source == onesmart.KeyApparatus {
		flag = onesmart.ApparatusFlag(desc.DeviceID)
	} else {
		var err error
		if flag, err = onesmart.FlagFor(desc.Source); err != nil {
			d.logger.Debug("no refresh after write", "descriptor", desc.ID, "source", desc.Source)
			return
		}
	}
	if err := d.gw.SetUpdateFlag(flag); err != nil {
		d.logger.Warn("failed to queue refresh after write", "descriptor", desc.ID, "error", err)
	}
}

func ackFor(cmd CommandMessage, txID uint32, err error) AckMessage {
	switch {
	case err == nil:
		return NewAckMessage(cmd, AckAccepted, txID)
	case errors.Is(err, onesmart.ErrCommandQueued):
		return NewAckMessage(cmd, AckQueued, 0)
	case errors.Is(err, onesmart.ErrQueueFull):
		return NewAckError(cmd, ErrCodeQueueFull, err.Error())
	case errors.Is(err, onesmart.ErrClosed):
		return NewAckError(cmd, ErrCodeBridgeError, err.Error())
	default:
		return NewAckError(cmd, ErrCodeGatewayError, err.Error())
	}
}

func (d *Dispatcher) record(ctx context.Context, cmd CommandMessage, tmpl onesmart.CommandTemplate, ack AckMessage) {
	if d.repo == nil {
		return
	}

	rec := &history.CommandRecord{
		ID:            cmd.ID,
		DescriptorID:  cmd.DescriptorID,
		Channel:       string(onesmart.ChannelPoll),
		Command:       string(tmpl.Command),
		Fields:        tmpl.WithValue(cmd.Value).Fields,
		TransactionID: ack.TransactionID,
		Source:        cmd.Source,
		CreatedAt:     ack.Timestamp,
	}
	switch ack.Status {
	case AckAccepted:
		rec.Outcome = history.OutcomeSent
	case AckQueued:
		rec.Outcome = history.OutcomeQueued
	default:
		rec.Outcome = history.OutcomeFailed
		if ack.Error != nil {
			rec.Error = ack.Error.Message
		}
	}

	if err := d.repo.RecordCommand(ctx, rec); err != nil {
		d.logger.Warn("failed to record command", "command_id", cmd.ID, "error", err)
	}
}

// Refresh queues an update flag for a cache key such as "site/get" or
// "apparatus/get/10".
func (d *Dispatcher) Refresh(key string) (onesmart.UpdateFlag, error) {
	flag, err := ParseRefreshKey(key)
	if err != nil {
		return onesmart.UpdateFlag{}, err
	}
	if err := d.gw.SetUpdateFlag(flag); err != nil {
		return onesmart.UpdateFlag{}, err
	}
	d.logger.Debug("refresh queued", "flag", flag.String())
	return flag, nil
}

// ParseRefreshKey turns a refresh key into an update flag. A third path
// segment is only valid for apparatus/get and names the device.
func ParseRefreshKey(key string) (onesmart.UpdateFlag, error) {
	key = strings.Trim(key, "/")
	prefix := string(onesmart.KeyApparatus) + "/"
	if strings.HasPrefix(key, prefix) {
		id := strings.TrimPrefix(key, prefix)
		if id == "" || strings.Contains(id, "/") {
			return onesmart.UpdateFlag{}, fmt.Errorf("%w: %q", onesmart.ErrInvalidFlag, key)
		}
		return onesmart.ApparatusFlag(id), nil
	}
	return onesmart.FlagFor(onesmart.CacheKey(key))
}
