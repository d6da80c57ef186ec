package notify

import (
	"context"
	"errors"
)

// PermissionState mirrors the browser notification permission values.
type PermissionState string

const (
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// ErrPermissionDenied is returned when notifications cannot be shown.
var ErrPermissionDenied = errors.New("notification permission denied")

// Permission reports and requests the right to show notifications.
type Permission interface {
	State() PermissionState
	Request(ctx context.Context) (PermissionState, error)
}

// Notification is a single user-visible message.
type Notification struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon,omitempty"`
	Badge              string `json:"badge,omitempty"`
	Tag                string `json:"tag"`
	RequireInteraction bool   `json:"requireInteraction"`
	Silent             bool   `json:"silent"`
}

// Handle refers to a shown notification.
type Handle interface {
	Close() error
}

// Surface displays notifications somewhere a user will see them.
type Surface interface {
	Show(ctx context.Context, n Notification) (Handle, error)
}

// AlwaysGranted is used by surfaces that never prompt.
type AlwaysGranted struct{}

func (AlwaysGranted) State() PermissionState { return PermissionGranted }

func (AlwaysGranted) Request(context.Context) (PermissionState, error) {
	return PermissionGranted, nil
}

var _ Permission = AlwaysGranted{}
