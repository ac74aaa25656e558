package pipeline

import (
	"context"
	"time"

	"lunchfinder/discovery/internal/domain"
)

// ThrottledLocation streams device location throttled on both edges.
// The first fix after a quiet period is emitted immediately and opens a
// window of one throttle interval. Fixes arriving inside the window
// collapse into a single trailing emission of the latest value when the
// window closes, which opens the next window. Consecutive emissions are
// therefore at least one interval apart. Fixes closer than the minimum
// movement to the last emitted point are noise and are dropped.
func (c *Coordinator) ThrottledLocation(ctx context.Context) <-chan domain.Coordinate {
	out := make(chan domain.Coordinate, 1)
	if c.location == nil {
		close(out)
		return out
	}
	go throttleCoordinates(ctx, c.location.Subscribe(ctx), out, c.throttleInterval, c.minMovementMeters)
	return out
}

func throttleCoordinates(
	ctx context.Context,
	in <-chan domain.Coordinate,
	out chan<- domain.Coordinate,
	interval time.Duration,
	minMovement float64,
) {
	var (
		last    *domain.Coordinate
		pending *domain.Coordinate
		timer   *time.Timer
		window  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		close(out)
	}()

	emit := func(coord domain.Coordinate) bool {
		select {
		case out <- coord:
			last = &coord
			return true
		case <-ctx.Done():
			return false
		}
	}
	openWindow := func() {
		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		window = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case coord, ok := <-in:
			if !ok {
				if pending != nil {
					emit(*pending)
				}
				return
			}
			if last != nil && domain.DistanceMeters(*last, coord) < minMovement {
				pending = nil
				continue
			}
			if window == nil {
				if !emit(coord) {
					return
				}
				openWindow()
				continue
			}
			c := coord
			pending = &c
		case <-window:
			window = nil
			if pending == nil {
				continue
			}
			next := *pending
			pending = nil
			if !emit(next) {
				return
			}
			openWindow()
		}
	}
}
