package services

import (
	"math"
	"sync"
	"time"
)

const ThrottleCooldownCapSeconds = 30

// LoginThrottle slows down password guessing on /login. After the n-th
// consecutive failure the user waits min(30, 2^n) seconds.
type LoginThrottle struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[int64]throttleEntry
}

type throttleEntry struct {
	failCount     int
	cooldownUntil time.Time
}

func NewLoginThrottle(now func() time.Time) *LoginThrottle {
	if now == nil {
		now = time.Now
	}
	return &LoginThrottle{now: now, entries: make(map[int64]throttleEntry)}
}

// WaitSeconds returns how many seconds the user must wait before trying again (0 if no cooldown).
func (t *LoginThrottle) WaitSeconds(userID int64) int {
	t.mu.Lock()
	e, ok := t.entries[userID]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	now := t.now()
	if now.Before(e.cooldownUntil) {
		return int(e.cooldownUntil.Sub(now).Seconds()) + 1 // round up
	}
	return 0
}

// RecordFailed increments the fail count and starts the cooldown.
func (t *LoginThrottle) RecordFailed(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[userID]
	e.failCount++
	e.cooldownUntil = t.now().Add(time.Duration(CooldownSecondsForFailCount(e.failCount)) * time.Second)
	t.entries[userID] = e
}

// RecordSuccess forgets the user's failures.
func (t *LoginThrottle) RecordSuccess(userID int64) {
	t.mu.Lock()
	delete(t.entries, userID)
	t.mu.Unlock()
}

// CooldownSecondsForFailCount returns min(30, 2^failCount).
func CooldownSecondsForFailCount(failCount int) int {
	s := int(math.Pow(2, float64(failCount)))
	if s > ThrottleCooldownCapSeconds {
		return ThrottleCooldownCapSeconds
	}
	return s
}
