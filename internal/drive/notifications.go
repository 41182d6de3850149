package drive

import (
	"context"
	"fmt"
)

// maxNotificationsShown caps a notification listing.
const maxNotificationsShown = 50

// Notifications returns u's notifications, newest first.
func (e *Engine) Notifications(ctx context.Context, u *User) ([]*Notification, error) {
	list, err := e.database.ListNotifications(u.ID, maxNotificationsShown)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return list, nil
}

// MarkNotificationRead marks one of u's notifications as read. Marking an
// already-read notification keeps its original read time.
func (e *Engine) MarkNotificationRead(ctx context.Context, u *User, id string) error {
	if err := e.database.MarkNotificationRead(u.ID, id, e.clock.Now()); err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// LookupUser finds a user by username. It returns ErrNotFound when there is
// no such user.
func (e *Engine) LookupUser(ctx context.Context, username string) (*User, error) {
	u, err := e.database.FindUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("finding user %s: %w", username, err)
	}
	if u == nil {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return u, nil
}

// Users returns every known user.
func (e *Engine) Users(ctx context.Context) ([]*User, error) {
	users, err := e.database.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}
