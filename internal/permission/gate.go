// Package permission gates camera activity on the process being allowed to
// use the camera. Permission is re-checked on every resume.
package permission

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/vzahanych/camsense/internal/logger"
)

// ErrDenied is returned when a requested permission was not granted. It is
// fatal: there is no degraded mode without the camera.
var ErrDenied = errors.New("camera permission denied")

// Permission names a runtime permission
type Permission string

const (
	PermissionCamera Permission = "camera"
)

// Authorizer checks and requests permissions. Request must return
// immediately and call done exactly once, from any goroutine, with the
// request code it was given.
type Authorizer interface {
	Granted(p Permission) bool
	Request(ctx context.Context, perms []Permission, code int, done func(code int))
}

// Poster schedules a function on the UI loop
type Poster interface {
	Post(fn func()) error
}

// GateConfig configures a Gate
type GateConfig struct {
	Permissions []Permission
	// OnGranted runs on the UI loop once every permission is granted
	OnGranted func()
	// OnDenied runs on the UI loop when a request comes back without the
	// permissions, or with a foreign request code
	OnDenied func(error)
}

// Gate asks the Authorizer for permissions before the camera may run
type Gate struct {
	logger *logger.Logger
	auth   Authorizer
	poster Poster
	cfg    GateConfig
	code   int

	mu      sync.Mutex
	pending bool
}

// NewGate creates a gate with a request code unique to this process
func NewGate(auth Authorizer, poster Poster, cfg GateConfig, log *logger.Logger) *Gate {
	if len(cfg.Permissions) == 0 {
		cfg.Permissions = []Permission{PermissionCamera}
	}
	return &Gate{
		logger: log,
		auth:   auth,
		poster: poster,
		cfg:    cfg,
		code:   newRequestCode(),
	}
}

// newRequestCode derives a code in [0, 10000) from a random UUID
func newRequestCode() int {
	id := uuid.New()
	return int(binary.BigEndian.Uint32(id[:4]) % 10000)
}

// Code returns the request code used by this gate
func (g *Gate) Code() int {
	return g.code
}

// Granted reports whether every permission is currently granted
func (g *Gate) Granted() bool {
	for _, p := range g.cfg.Permissions {
		if !g.auth.Granted(p) {
			return false
		}
	}
	return true
}

// Pending reports whether a request is waiting for its callback
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Check is called on every resume. If the permissions are granted it returns
// true and the caller may start the camera. Otherwise it issues a request
// (unless one is already pending) and returns false; the outcome arrives
// through OnGranted or OnDenied.
func (g *Gate) Check(ctx context.Context) bool {
	if g.Granted() {
		return true
	}

	g.mu.Lock()
	if g.pending {
		g.mu.Unlock()
		return false
	}
	g.pending = true
	g.mu.Unlock()

	g.logger.Info("Requesting permissions", "permissions", g.cfg.Permissions, "code", g.code)
	g.auth.Request(ctx, g.cfg.Permissions, g.code, g.onResult)
	return false
}

func (g *Gate) onResult(code int) {
	g.post(func() {
		g.mu.Lock()
		g.pending = false
		g.mu.Unlock()

		if code == g.code && g.Granted() {
			g.logger.Info("Permissions granted", "code", code)
			if g.cfg.OnGranted != nil {
				g.cfg.OnGranted()
			}
			return
		}

		g.logger.Error("Permissions denied", "code", code, "expected_code", g.code)
		if g.cfg.OnDenied != nil {
			g.cfg.OnDenied(ErrDenied)
		}
	})
}

func (g *Gate) post(fn func()) {
	if g.poster == nil {
		fn()
		return
	}
	if err := g.poster.Post(fn); err != nil {
		g.logger.Warn("UI loop unavailable, delivering permission result inline", "error", err)
		fn()
	}
}
