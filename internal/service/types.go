package service

import "time"

// SeedUser is an account in a demo dataset. An empty Pin creates an account
// that must set its PIN on first login.
type SeedUser struct {
	Phone       string    `json:"phone"`
	DisplayName string    `json:"displayName"`
	Pin         string    `json:"pin,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SeedIOU is an IOU in a demo dataset, created by the account with FromPhone.
type SeedIOU struct {
	FromPhone   string `json:"fromPhone"`
	ToPhone     string `json:"toPhone,omitempty"`
	ToName      string `json:"toName,omitempty"`
	Description string `json:"description,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Repaid      bool   `json:"repaid,omitempty"`
}
