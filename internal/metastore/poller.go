package metastore

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Querier is the read side of a Store.
type Querier interface {
	Query(ctx context.Context, filter Filter) ([]Document, error)
}

// Poller turns a Querier without push notifications into subscriptions
// by re-running the query on a fixed interval and comparing document ids
// and update times with the previous result.
type Poller struct {
	querier  Querier
	clock    clockwork.Clock
	interval time.Duration
}

// NewPoller creates a poller. A non-positive interval means five seconds.
func NewPoller(querier Querier, clock clockwork.Clock, interval time.Duration) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{querier: querier, clock: clock, interval: interval}
}

// Subscribe starts polling filter. The returned function stops polling and
// waits for an in-flight callback to return; it must not be called from
// inside onChange.
func (p *Poller) Subscribe(filter Filter, onChange func([]Document)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := p.clock.NewTicker(p.interval)
		defer ticker.Stop()

		var last []changeKey
		first := true
		poll := func() {
			docs, err := p.querier.Query(ctx, filter)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[METASTORE] Poll of %s failed: %v", filter.Collection, err)
				}
				return
			}
			sig := signature(docs)
			if !first && sameSignature(sig, last) {
				return
			}
			first = false
			last = sig
			onChange(docs)
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				poll()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
