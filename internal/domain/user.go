package domain

import "time"

// User is a registered (or placeholder) account, keyed by canonical phone.
type User struct {
	ID          string
	Phone       string
	DisplayName string
	PinHash     *string
	CreatedAt   time.Time
}

// HasPin reports whether the user has completed PIN setup.
func (u User) HasPin() bool {
	return u.PinHash != nil && *u.PinHash != ""
}
