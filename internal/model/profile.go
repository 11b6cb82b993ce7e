package model

import "time"

// Profile holds a user's personal details and display preferences.
type Profile struct {
	UserID      string      `json:"userId"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	FullName    string      `json:"fullName"`
	PhoneNumber string      `json:"phoneNumber,omitempty"`
	DateOfBirth *time.Time  `json:"dateOfBirth,omitempty"`
	Address     Address     `json:"address"`
	Preferences Preferences `json:"preferences"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Address is a postal address.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country"`
}

// Preferences are per-user display and notification settings.
type Preferences struct {
	Currency      string        `json:"currency"`
	Theme         string        `json:"theme"`
	Notifications Notifications `json:"notifications"`
}

// Notifications toggles delivery channels.
type Notifications struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// DefaultProfile returns the profile a user has before any update.
func DefaultProfile(userID string) Profile {
	return Profile{
		UserID:  userID,
		Address: Address{Country: "USA"},
		Preferences: Preferences{
			Currency:      "USD",
			Theme:         "light",
			Notifications: Notifications{Email: true, SMS: false, Push: true},
		},
	}
}
