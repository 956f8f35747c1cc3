package permission

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vzahanych/camsense/internal/logger"
)

// DeviceAuthorizer grants the camera permission when the process can read
// and write the capture device node. Inputs that are not device nodes
// (files, stream URLs, the synthetic source) are always granted.
type DeviceAuthorizer struct {
	logger       *logger.Logger
	node         string
	timeout      time.Duration
	pollInterval time.Duration
	access       func(path string, mode uint32) error
}

// NewDeviceAuthorizer creates an authorizer for the configured camera device.
// A pending request polls for up to timeout, giving the operator time to fix
// group membership or udev rules.
func NewDeviceAuthorizer(device string, timeout, pollInterval time.Duration, log *logger.Logger) *DeviceAuthorizer {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &DeviceAuthorizer{
		logger:       log,
		node:         DeviceNode(device),
		timeout:      timeout,
		pollInterval: pollInterval,
		access:       unix.Access,
	}
}

// DeviceNode maps a camera device setting to the node it opens, or "" when
// the input is not a device node. "0" maps to /dev/video0.
func DeviceNode(device string) string {
	if n, err := strconv.Atoi(device); err == nil && n >= 0 {
		return "/dev/video" + strconv.Itoa(n)
	}
	if strings.HasPrefix(device, "/dev/") {
		return device
	}
	return ""
}

// Node returns the device node checked, or "" when none applies
func (a *DeviceAuthorizer) Node() string {
	return a.node
}

// Granted implements Authorizer
func (a *DeviceAuthorizer) Granted(p Permission) bool {
	if p != PermissionCamera || a.node == "" {
		return true
	}
	return a.access(a.node, unix.R_OK|unix.W_OK) == nil
}

// Request implements Authorizer. The callback fires as soon as access is
// granted, or after the timeout.
func (a *DeviceAuthorizer) Request(ctx context.Context, perms []Permission, code int, done func(code int)) {
	go func() {
		defer done(code)

		if a.allGranted(perms) {
			return
		}
		a.logger.Warn("Waiting for camera access", "device", a.node, "code", code, "timeout", a.timeout)

		deadline := time.NewTimer(a.timeout)
		defer deadline.Stop()
		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-deadline.C:
				return
			case <-ticker.C:
				if a.allGranted(perms) {
					return
				}
			}
		}
	}()
}

func (a *DeviceAuthorizer) allGranted(perms []Permission) bool {
	for _, p := range perms {
		if !a.Granted(p) {
			return false
		}
	}
	return true
}
