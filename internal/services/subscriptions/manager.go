package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/models"
)

// RelayChannelPrefix is prepended by the relay to the channel it publishes on
const RelayChannelPrefix = "ws_channel:"

type entry struct {
	handle     models.JobHandle
	subscribed bool
}

// Manager keeps at most one active subscription per workflow slot.
// It only sends control frames; it never mutates workflow state.
// Not safe for concurrent use; the workflow controller owns it.
type Manager struct {
	transport interfaces.Transport
	slots     map[models.Slot]*entry
	logger    arbor.ILogger
}

// NewManager creates a subscription manager sending over transport
func NewManager(transport interfaces.Transport, logger arbor.ILogger) *Manager {
	return &Manager{
		transport: transport,
		slots:     make(map[models.Slot]*entry),
		logger:    logger,
	}
}

// Subscribe sends SUBSCRIBE for the handle's channel once per job.
// A different job already active in the same slot is unsubscribed first.
func (m *Manager) Subscribe(ctx context.Context, handle models.JobHandle) error {
	slot := handle.Slot()

	if current, ok := m.slots[slot]; ok {
		if current.handle.JobID == handle.JobID && current.handle.Channel == handle.Channel && current.subscribed {
			m.logger.Debug().
				Str("job_id", handle.JobID).
				Str("channel", handle.Channel).
				Msg("Already subscribed to job channel")
			return nil
		}
		if err := m.Unsubscribe(ctx, current.handle); err != nil {
			m.logger.Warn().Err(err).Str("channel", current.handle.Channel).Msg("Failed to unsubscribe replaced job channel")
		}
	}

	e := &entry{handle: handle}
	m.slots[slot] = e

	if err := m.send(ctx, models.ControlSubscribe, handle.Channel); err != nil {
		return err
	}
	e.subscribed = true

	m.logger.Info().
		Str("job_id", handle.JobID).
		Str("channel", handle.Channel).
		Str("slot", string(slot)).
		Msg("Subscribed to job channel")
	return nil
}

// Unsubscribe sends UNSUBSCRIBE for the handle if it is the active subscription of its slot.
// Calling it again, or for a handle that was replaced, is a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, handle models.JobHandle) error {
	slot := handle.Slot()
	current, ok := m.slots[slot]
	if !ok || current.handle.JobID != handle.JobID {
		return nil
	}

	// Forget first so a failed send is never retried as a second UNSUBSCRIBE
	delete(m.slots, slot)
	if !current.subscribed {
		return nil
	}
	current.subscribed = false

	if err := m.send(ctx, models.ControlUnsubscribe, handle.Channel); err != nil {
		return err
	}

	m.logger.Info().
		Str("job_id", handle.JobID).
		Str("channel", handle.Channel).
		Str("slot", string(slot)).
		Msg("Unsubscribed from job channel")
	return nil
}

// UnsubscribeAll releases every active subscription
func (m *Manager) UnsubscribeAll(ctx context.Context) error {
	var firstErr error
	for _, slot := range []models.Slot{models.SlotPreCheck, models.SlotExecute} {
		if e, ok := m.slots[slot]; ok {
			if err := m.Unsubscribe(ctx, e.handle); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Active returns the subscribed handle of a slot
func (m *Manager) Active(slot models.Slot) (models.JobHandle, bool) {
	e, ok := m.slots[slot]
	if !ok || !e.subscribed {
		return models.JobHandle{}, false
	}
	return e.handle, true
}

// Matches reports whether an inbound frame channel belongs to an active subscription.
// The relay may publish either the subscribed name or its ws_channel: form.
func (m *Manager) Matches(channel string) bool {
	name := strings.TrimPrefix(channel, RelayChannelPrefix)
	for _, e := range m.slots {
		if e.subscribed && e.handle.Channel == name {
			return true
		}
	}
	return false
}

// Resubscribe re-sends SUBSCRIBE for every held handle after the transport reconnects,
// including handles whose first SUBSCRIBE failed to send.
// The relay keeps subscriptions per connection, so a new connection starts with none.
func (m *Manager) Resubscribe(ctx context.Context) error {
	for _, slot := range []models.Slot{models.SlotPreCheck, models.SlotExecute} {
		e, ok := m.slots[slot]
		if !ok {
			continue
		}
		if err := m.send(ctx, models.ControlSubscribe, e.handle.Channel); err != nil {
			return err
		}
		e.subscribed = true
		m.logger.Info().Str("channel", e.handle.Channel).Msg("Resubscribed after reconnect")
	}
	return nil
}

func (m *Manager) send(ctx context.Context, t models.ControlType, channel string) error {
	if err := m.transport.Send(ctx, models.ControlFrame{Type: t, Channel: channel}); err != nil {
		return fmt.Errorf("failed to send %s for %s: %w", t, channel, err)
	}
	return nil
}
