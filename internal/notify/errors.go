package notify

import "errors"

var (
	// ErrNotificationNotFound signals the notification does not exist for the user.
	ErrNotificationNotFound = errors.New("notification not found")
)
