package services

import (
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// OperatorAuth decides who may run /update and /stats: configured admin ids,
// plus users who logged in with the operator password (bcrypt hash).
type OperatorAuth struct {
	admins       map[int64]bool
	passwordHash []byte
	throttle     *LoginThrottle

	mu       sync.RWMutex
	loggedIn map[int64]bool
}

func NewOperatorAuth(adminIDs []int64, passwordHash string) *OperatorAuth {
	a := &OperatorAuth{
		admins:       make(map[int64]bool, len(adminIDs)),
		passwordHash: []byte(strings.TrimSpace(passwordHash)),
		throttle:     NewLoginThrottle(nil),
		loggedIn:     make(map[int64]bool),
	}
	for _, id := range adminIDs {
		a.admins[id] = true
	}
	return a
}

// WithThrottle replaces the login throttle (tests use one with a fake clock).
func (a *OperatorAuth) WithThrottle(t *LoginThrottle) *OperatorAuth {
	a.throttle = t
	return a
}

func (a *OperatorAuth) IsOperator(userID int64) bool {
	if a.admins[userID] {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loggedIn[userID]
}

// Login checks password against the configured hash. With no hash configured
// password login is disabled. While the user is in a cooldown after failed
// attempts the password is not checked and wait is the remaining seconds.
func (a *OperatorAuth) Login(userID int64, password string) (ok bool, wait int) {
	if len(a.passwordHash) == 0 || password == "" {
		return false, 0
	}
	if wait := a.throttle.WaitSeconds(userID); wait > 0 {
		return false, wait
	}
	if bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) != nil {
		a.throttle.RecordFailed(userID)
		return false, 0
	}
	a.throttle.RecordSuccess(userID)
	a.mu.Lock()
	a.loggedIn[userID] = true
	a.mu.Unlock()
	return true, 0
}

func (a *OperatorAuth) Logout(userID int64) {
	a.mu.Lock()
	delete(a.loggedIn, userID)
	a.mu.Unlock()
}
