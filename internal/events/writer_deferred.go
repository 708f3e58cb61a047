package events

import (
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// DeferredWriter forwards to a writer attached after the producer is built.
// Events written before Attach are dropped.
type DeferredWriter struct {
	mu sync.RWMutex
	w  Writer
}

func (d *DeferredWriter) Attach(w Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w = w
}

func (d *DeferredWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	d.mu.RLock()
	w := d.w
	d.mu.RUnlock()
	if w == nil {
		return nil
	}
	return w.Write(ctx, topic, e)
}

func (d *DeferredWriter) Close(ctx context.Context) error {
	d.mu.RLock()
	w := d.w
	d.mu.RUnlock()
	if w == nil {
		return nil
	}
	return w.Close(ctx)
}
