package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"lunchfinder/discovery/internal/domain"
)

// DebouncedSearch turns a stream of raw query text into text searches. A
// query fires once the input has been quiet for the debounce interval; a
// query equal to the previous fired one is dropped, and blank queries never
// reach Execute. Each fired query cancels the search started by the previous
// one, so only the newest query can emit.
//
// The returned stream closes after queries is closed and the last search has
// emitted, or when ctx ends.
func (c *Coordinator) DebouncedSearch(ctx context.Context, queries <-chan string) <-chan []domain.Place {
	return c.debouncedSearch(ctx, queries, func(query string) domain.SearchIntent {
		return domain.TextIntent(query, nil)
	})
}

// DebouncedSearchWith is DebouncedSearch with every fired query applied to
// base, keeping its filters, radius and location.
func (c *Coordinator) DebouncedSearchWith(ctx context.Context, queries <-chan string, base domain.SearchIntent) <-chan []domain.Place {
	return c.debouncedSearch(ctx, queries, func(query string) domain.SearchIntent {
		intent := base
		intent.Kind = domain.SearchKindText
		intent.Query = query
		intent.ContinuationToken = ""
		return intent
	})
}

func (c *Coordinator) debouncedSearch(
	ctx context.Context,
	queries <-chan string,
	toIntent func(string) domain.SearchIntent,
) <-chan []domain.Place {
	out := make(chan []domain.Place, 1)
	d := &debouncer{
		coordinator: c,
		out:         out,
		toIntent:    toIntent,
	}
	go d.loop(ctx, queries)
	return out
}

type debouncer struct {
	coordinator *Coordinator
	out         chan []domain.Place
	toIntent    func(string) domain.SearchIntent

	wg         sync.WaitGroup
	lastFired  *string
	cancelPrev context.CancelFunc
}

func (d *debouncer) loop(ctx context.Context, queries <-chan string) {
	var (
		timer      *time.Timer
		fire       <-chan time.Time
		pending    string
		hasPending bool
		generation uint64
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil && d.cancelPrev != nil {
			d.cancelPrev()
		}
		d.wg.Wait()
		if d.cancelPrev != nil {
			d.cancelPrev()
		}
		close(d.out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case query, ok := <-queries:
			if !ok {
				if hasPending && generation == d.coordinator.currentGeneration() {
					d.fire(ctx, pending)
				}
				return
			}
			pending = query
			hasPending = true
			generation = d.coordinator.currentGeneration()
			if timer == nil {
				timer = time.NewTimer(d.coordinator.debounceInterval)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d.coordinator.debounceInterval)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			hasPending = false
			// CancelAll since the value arrived invalidates the pending timer.
			if generation != d.coordinator.currentGeneration() {
				continue
			}
			d.fire(ctx, pending)
		}
	}
}

func (d *debouncer) fire(ctx context.Context, raw string) {
	query := strings.TrimSpace(raw)
	if d.lastFired != nil && *d.lastFired == query {
		return
	}
	d.lastFired = &query
	if query == "" {
		return
	}

	if d.cancelPrev != nil {
		d.cancelPrev()
	}
	callCtx, cancel := context.WithCancel(ctx)
	d.cancelPrev = cancel

	results := d.coordinator.Execute(callCtx, d.toIntent(query))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case places, ok := <-results:
			if !ok || callCtx.Err() != nil {
				return
			}
			select {
			case d.out <- places:
			case <-callCtx.Done():
			}
		case <-callCtx.Done():
		}
	}()
}
