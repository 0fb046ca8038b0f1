// Package locker provides an HTTP middleware which allows the bench to be
// claimed by one operator, returning 423 (locked) to mutating requests from
// anyone else
package locker

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
)

// Header carries the operator name on protected requests
const Header = "X-Operator"

// Claim is who holds the lock and since when
type Claim struct {
	Locked bool      `json:"locked"`
	User   string    `json:"user,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

// Request is the body of POST /lock
type Request struct {
	Lock bool   `json:"bool"`
	User string `json:"user"`
}

// Locker behaves like a sync.Mutex without the blocking, and holds a list of
// paths it does not protect
type Locker struct {
	mu    sync.Mutex
	claim Claim

	// DoNotProtect is a list of path substrings the lock never applies to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock claims the locker for user
func (l *Locker) Lock(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claim = Claim{Locked: true, User: user, Since: time.Now()}
}

// Unlock releases the claim
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claim = Claim{}
}

// Claim returns the current claim
func (l *Locker) Claim() Claim {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claim
}

// allowed reports whether user may pass a locked locker
func (l *Locker) allowed(user string) bool {
	c := l.Claim()
	return !c.Locked || (c.User != "" && c.User == user)
}

// Check is an HTTP middleware that returns http.StatusLocked for non-GET
// requests from anyone but the claiming operator
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && !l.allowed(r.Header.Get(Header)) {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
				}
			}
			if protected {
				http.Error(w, "bench locked by "+l.Claim().User, http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks based on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req := Request{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Lock {
		if c := l.Claim(); c.Locked && c.User != req.User {
			http.Error(w, "bench already locked by "+c.User, http.StatusLocked)
			return
		}
		l.Lock(req.User)
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns the claim as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(l.Claim()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Bind adds the lock routes to r
func (l *Locker) Bind(r chi.Router) {
	r.Get("/lock", l.HTTPGet)
	r.Post("/lock", l.HTTPSet)
}
