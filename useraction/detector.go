// Package useraction tells walks the user clicked apart from walks issued
// by this process or replayed by the client itself.
package useraction

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"nosbind/browser"
)

// Walker moves the player. binding.PlayerManager is one.
type Walker interface {
	Walk(x, y uint16) (bool, error)
}

// PetWalker moves a pet. binding.PetManager is one.
type PetWalker interface {
	PetWalk(selector int, x, y uint16) (bool, error)
}

type position struct {
	x, y uint16
}

// Detector is shared by everything that issues walks in one process. Only
// one guarded action runs at a time.
type Detector struct {
	sem      *semaphore.Weighted
	disabled atomic.Bool

	mu       sync.Mutex
	lastWalk position
	walked   bool
}

func New() *Detector {
	return &Detector{sem: semaphore.NewWeighted(1)}
}

// HandlingDisabled reports whether a guarded action is running right now.
func (d *Detector) HandlingDisabled() bool {
	return d.disabled.Load()
}

// NotUserAction runs action with user-action handling disabled. It waits for
// any other guarded action first; ctx only bounds that wait. The flag is
// cleared again however action returns, panics included.
func NotUserAction[T any](ctx context.Context, d *Detector, action func() (T, error)) (T, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer d.sem.Release(1)

	d.disabled.Store(true)
	defer d.disabled.Store(false)
	return action()
}

// NotUserWalk walks the player and remembers the target so that the client
// replaying the same walk is not taken for the user.
func (d *Detector) NotUserWalk(ctx context.Context, w Walker, x, y uint16) (bool, error) {
	return NotUserAction(ctx, d, func() (bool, error) {
		d.remember(x, y)
		return w.Walk(x, y)
	})
}

func (d *Detector) NotUserPetWalk(ctx context.Context, w PetWalker, selector int, x, y uint16) (bool, error) {
	return NotUserAction(ctx, d, func() (bool, error) {
		return w.PetWalk(selector, x, y)
	})
}

func (d *Detector) remember(x, y uint16) {
	d.mu.Lock()
	d.lastWalk = position{x, y}
	d.walked = true
	d.mu.Unlock()
}

// IsWalkUserAction classifies an intercepted walk. A walk to the last
// commanded position is an echo even outside a guarded action.
func (d *Detector) IsWalkUserAction(x, y uint16) bool {
	if d.HandlingDisabled() {
		d.remember(x, y)
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.walked || d.lastWalk != position{x, y}
}

// IsPetWalkUserOperation classifies an intercepted pet walk. The client does
// not replay pet walks, so only the guard counts.
func (d *Detector) IsPetWalkUserOperation(_ browser.PetManager, _, _ uint16) bool {
	return !d.HandlingDisabled()
}
