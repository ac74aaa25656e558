package location

import (
	"context"
	"sync"

	"lunchfinder/discovery/internal/domain"
)

// StaticProvider always answers with the same coordinate, or with
// ErrPermissionDenied when denied is set.
type StaticProvider struct {
	coord  domain.Coordinate
	denied bool
}

func NewStaticProvider(coord domain.Coordinate) *StaticProvider {
	return &StaticProvider{coord: coord}
}

func NewDeniedProvider() *StaticProvider {
	return &StaticProvider{denied: true}
}

func (p *StaticProvider) CurrentLocation(ctx context.Context) (domain.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return domain.Coordinate{}, err
	}
	if p.denied {
		return domain.Coordinate{}, ErrPermissionDenied
	}
	return p.coord, nil
}

// PushProvider resolves with the newest coordinate pushed by the device.
// CurrentLocation waits for the first push (or a permission change) until
// ctx ends.
type PushProvider struct {
	mu      sync.Mutex
	latest  *domain.Coordinate
	denied  bool
	changed chan struct{}
}

func NewPushProvider() *PushProvider {
	return &PushProvider{changed: make(chan struct{})}
}

func (p *PushProvider) Push(coord domain.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := coord
	p.latest = &c
	p.denied = false
	p.notifyLocked()
}

// SetPermission records the platform permission outcome. Denying wakes every
// pending CurrentLocation call with ErrPermissionDenied.
func (p *PushProvider) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = !granted
	p.notifyLocked()
}

func (p *PushProvider) CurrentLocation(ctx context.Context) (domain.Coordinate, error) {
	for {
		p.mu.Lock()
		if p.denied {
			p.mu.Unlock()
			return domain.Coordinate{}, ErrPermissionDenied
		}
		if p.latest != nil {
			coord := *p.latest
			p.mu.Unlock()
			return coord, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Coordinate{}, ctx.Err()
		case <-changed:
		}
	}
}

func (p *PushProvider) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
