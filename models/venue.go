package models

import "github.com/shopspring/decimal"

// Venue is a row of the venues table. UnitPrice is per kilogram.
type Venue struct {
	ID        string
	Name      string
	Address   string
	UnitPrice decimal.Decimal
}

// UserProfile is the persisted per-user registration data.
type UserProfile struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	VenueID     string `json:"venue_id,omitempty"`
	VenueName   string `json:"venue_name,omitempty"`
	Address     string `json:"address,omitempty"`
	Registered  bool   `json:"registered"`
}

// CanOrder reports whether registration is complete.
func (p *UserProfile) CanOrder() bool {
	return p != nil && p.Registered && p.VenueID != "" && p.VenueName != "" && p.Address != ""
}
