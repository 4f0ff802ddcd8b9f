package eventlog

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Recorder appends entries to the store and publishes them to the broker.
// The append is authoritative; a publish reaches only whoever is listening
// right now.
type Recorder struct {
	store  Store
	broker *Broker
	logger log.Logger
}

// NewRecorder creates a Recorder. A nil broker disables publishing.
func NewRecorder(store Store, broker *Broker, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.Nop()
	}
	return &Recorder{store: store, broker: broker, logger: logger}
}

// Record persists an event and broadcasts it. The entry gets a fresh ID and,
// if unset, the current time.
func (r *Recorder) Record(ctx context.Context, alertID string, typ Type, payload map[string]any) (*Entry, error) {
	e := &Entry{
		ID:        ulid.Make().String(),
		AlertID:   alertID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := r.store.Append(ctx, e); err != nil {
		return nil, err
	}
	if r.broker != nil {
		r.broker.Publish(e)
	}
	return e, nil
}
