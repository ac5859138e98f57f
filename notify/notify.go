// Package notify delivers page notifications to index builders.
//
// A notification is emitted whenever a page is uploaded: page_created after
// ingestion flushes a page, page_updated after a repair rewrites one.
// Delivery is at least once; consumers must tolerate duplicates.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/justapithecus/sitemapper/stream"
	"github.com/justapithecus/sitemapper/types"
)

// Notifier publishes page events to a downstream system.
type Notifier interface {
	// Notify sends one event. Must respect context cancellation and deadlines.
	Notify(ctx context.Context, ev *types.PageEvent) error
	// Close releases notifier resources.
	Close() error
}

// NewEvent builds a page event stamped with now.
func NewEvent(kind types.PageEventType, typ, fileName, key string, count int, now time.Time) *types.PageEvent {
	return &types.PageEvent{
		EventType: kind,
		Type:      typ,
		FileName:  fileName,
		Key:       key,
		ItemCount: count,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// Nop discards every event.
type Nop struct{}

var _ Notifier = Nop{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, *types.PageEvent) error { return nil }

// Close implements Notifier.
func (Nop) Close() error { return nil }

// StreamNotifier publishes events onto the outbound stream, keyed by type so
// events of one type stay ordered.
type StreamNotifier struct {
	pub stream.Publisher
}

var _ Notifier = (*StreamNotifier)(nil)

// NewStreamNotifier wraps pub. The notifier does not own pub; Close is a no-op.
func NewStreamNotifier(pub stream.Publisher) *StreamNotifier {
	return &StreamNotifier{pub: pub}
}

// Notify implements Notifier.
func (n *StreamNotifier) Notify(ctx context.Context, ev *types.PageEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream notifier: marshal event: %w", err)
	}
	return n.pub.Publish(ctx, []stream.OutRecord{{PartitionKey: ev.Type, Data: body}})
}

// Close implements Notifier.
func (n *StreamNotifier) Close() error { return nil }

// Recorder keeps events in memory. Used by tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []types.PageEvent
	// Err, when set, is returned by every Notify.
	Err error
}

var _ Notifier = (*Recorder)(nil)

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, ev *types.PageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, *ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []types.PageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Close implements Notifier.
func (r *Recorder) Close() error { return nil }
