package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrPoolClosed = errors.New("cache pool closed")

// Pool shares a bounded number of client handles per destination address.
// Every successful Acquire must be paired with exactly one call to the returned
// release func, on success and failure paths alike.
type Pool struct {
	factory Factory
	size    int

	mu     sync.Mutex
	slots  map[string]*poolSlot
	closed bool
}

type poolSlot struct {
	sem  chan struct{}
	idle chan Client
}

// NewPool builds a pool holding at most size handles per address.
func NewPool(factory Factory, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		factory: factory,
		size:    size,
		slots:   make(map[string]*poolSlot),
	}
}

// Acquire borrows a client for addr, blocking while all handles are in use.
func (p *Pool) Acquire(ctx context.Context, addr string) (Client, func(), error) {
	slot, err := p.slotFor(addr)
	if err != nil {
		return nil, nil, err
	}

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	var client Client
	select {
	case client = <-slot.idle:
	default:
		client, err = p.factory(addr)
		if err != nil {
			<-slot.sem
			return nil, nil, fmt.Errorf("open cache client %s: %w", addr, err)
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() { p.release(slot, client) })
	}
	return client, release, nil
}

// With runs fn with a borrowed client and always returns it to the pool.
func (p *Pool) With(ctx context.Context, addr string, fn func(Client) error) error {
	client, release, err := p.Acquire(ctx, addr)
	if err != nil {
		return err
	}
	defer release()
	return fn(client)
}

func (p *Pool) release(slot *poolSlot, client Client) {
	p.mu.Lock()
	if !p.closed {
		select {
		case slot.idle <- client:
			client = nil
		default:
		}
	}
	p.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	<-slot.sem
}

func (p *Pool) slotFor(addr string) (*poolSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	slot, ok := p.slots[addr]
	if !ok {
		slot = &poolSlot{
			sem:  make(chan struct{}, p.size),
			idle: make(chan Client, p.size),
		}
		p.slots[addr] = slot
	}
	return slot, nil
}

// Close closes idle clients. Borrowed clients are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	slots := p.slots
	p.mu.Unlock()

	var errs []error
	for _, slot := range slots {
		errs = append(errs, drainIdle(slot.idle)...)
	}
	return errors.Join(errs...)
}

func drainIdle(idle chan Client) []error {
	var errs []error
	for {
		select {
		case c := <-idle:
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errs
		}
	}
}
