package bot

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pool bounds the number of concurrently running game workers. The active
// set is only ever mutated under its mutex: Admit is an atomic
// check-then-add, Release an atomic remove, so the set can never exceed max.
type Pool struct {
	logger zerolog.Logger
	max    int

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewPool(max int, logger zerolog.Logger) *Pool {
	return &Pool{
		logger: logger,
		max:    max,
		active: make(map[string]struct{}),
	}
}

// Admit reserves a slot for gameID. It fails when the pool is full or the
// game is already active.
func (p *Pool) Admit(gameID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.active) >= p.max {
		return false
	}
	if _, ok := p.active[gameID]; ok {
		return false
	}
	p.active[gameID] = struct{}{}
	return true
}

// Release frees the slot held by gameID.
func (p *Pool) Release(gameID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, gameID)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Pool) HasCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) < p.max
}

// Spawn runs a worker for an already-admitted game. The slot is released
// when the worker returns, and also when it panics: a crashing game is
// logged with its stack and must never take its slot, the process or a
// sibling game down with it.
func (p *Pool) Spawn(gameID string, run func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.Release(gameID)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("game", gameID).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("game worker crashed")
			}
		}()
		run()
	}()
}

// Drain waits for all running workers to finish, up to timeout. It reports
// whether the pool drained completely.
func (p *Pool) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
