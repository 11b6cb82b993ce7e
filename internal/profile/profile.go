// Package profile merges partial profile updates against the known schema.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/store"
)

// ErrInvalidProfile wraps every validation and decoding failure.
var ErrInvalidProfile = errors.New("profile: invalid")

var (
	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{0,15}$`)
	zipRegex   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

var (
	currencies = map[string]bool{"USD": true, "EUR": true, "GBP": true, "JPY": true, "CAD": true}
	themes     = map[string]bool{"light": true, "dark": true}
)

// Patch is a partial profile. Nil fields are left unchanged; an empty
// phone number or date of birth clears it.
type Patch struct {
	FirstName   *string           `json:"firstName"`
	LastName    *string           `json:"lastName"`
	PhoneNumber *string           `json:"phoneNumber"`
	DateOfBirth *string           `json:"dateOfBirth"`
	Address     *AddressPatch     `json:"address"`
	Preferences *PreferencesPatch `json:"preferences"`
}

type AddressPatch struct {
	Street  *string `json:"street"`
	City    *string `json:"city"`
	State   *string `json:"state"`
	ZipCode *string `json:"zipCode"`
	Country *string `json:"country"`
}

type PreferencesPatch struct {
	Currency      *string             `json:"currency"`
	Theme         *string             `json:"theme"`
	Notifications *NotificationsPatch `json:"notifications"`
}

type NotificationsPatch struct {
	Email *bool `json:"email"`
	SMS   *bool `json:"sms"`
	Push  *bool `json:"push"`
}

// DecodePatch reads a JSON patch, rejecting fields outside the schema.
func DecodePatch(r io.Reader) (*Patch, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var p Patch
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return &p, nil
}

// Store persists profiles.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	SaveProfile(ctx context.Context, p *model.Profile) error
}

// Service reads and updates profiles.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(st Store) *Service {
	return &Service{store: st, now: time.Now}
}

// SetClock overrides the time source used for updatedAt and birth date checks.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns the stored profile, or the default one for a user who never
// saved any.
func (s *Service) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		def := model.DefaultProfile(userID)
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// Update applies patch to the current profile and saves the result. Nothing
// is written when validation fails.
func (s *Service) Update(ctx context.Context, userID string, patch *Patch) (*model.Profile, error) {
	cur, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := *cur
	now := s.now().UTC()

	if err := apply(&next, patch, now); err != nil {
		return nil, err
	}
	next.UserID = userID
	next.FullName = strings.TrimSpace(next.FirstName + " " + next.LastName)
	next.UpdatedAt = now

	if err := s.store.SaveProfile(ctx, &next); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return &next, nil
}

func apply(p *model.Profile, patch *Patch, now time.Time) error {
	if patch == nil {
		return nil
	}
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if patch.FirstName != nil {
		v := strings.TrimSpace(*patch.FirstName)
		if !lengthBetween(v, 2, 50) {
			bad("firstName must be 2-50 characters")
		}
		p.FirstName = v
	}
	if patch.LastName != nil {
		v := strings.TrimSpace(*patch.LastName)
		if !lengthBetween(v, 2, 50) {
			bad("lastName must be 2-50 characters")
		}
		p.LastName = v
	}
	if patch.PhoneNumber != nil {
		v := strings.TrimSpace(*patch.PhoneNumber)
		if v != "" && !phoneRegex.MatchString(v) {
			bad("phoneNumber is not a valid phone number")
		}
		p.PhoneNumber = v
	}
	if patch.DateOfBirth != nil {
		v := strings.TrimSpace(*patch.DateOfBirth)
		if v == "" {
			p.DateOfBirth = nil
		} else if dob, err := parseDate(v); err != nil {
			bad("dateOfBirth must be YYYY-MM-DD")
		} else if !dob.Before(now) {
			bad("dateOfBirth must be in the past")
		} else {
			p.DateOfBirth = &dob
		}
	}

	if a := patch.Address; a != nil {
		setMax(&p.Address.Street, a.Street, 100, "address.street", bad)
		setMax(&p.Address.City, a.City, 50, "address.city", bad)
		setMax(&p.Address.State, a.State, 50, "address.state", bad)
		setMax(&p.Address.Country, a.Country, 50, "address.country", bad)
		if a.ZipCode != nil {
			v := strings.TrimSpace(*a.ZipCode)
			if v != "" && !zipRegex.MatchString(v) {
				bad("address.zipCode must be 12345 or 12345-6789")
			}
			p.Address.ZipCode = v
		}
	}

	if pr := patch.Preferences; pr != nil {
		if pr.Currency != nil {
			v := strings.ToUpper(strings.TrimSpace(*pr.Currency))
			if !currencies[v] {
				bad("preferences.currency must be one of USD, EUR, GBP, JPY, CAD")
			}
			p.Preferences.Currency = v
		}
		if pr.Theme != nil {
			v := strings.ToLower(strings.TrimSpace(*pr.Theme))
			if !themes[v] {
				bad("preferences.theme must be light or dark")
			}
			p.Preferences.Theme = v
		}
		if n := pr.Notifications; n != nil {
			if n.Email != nil {
				p.Preferences.Notifications.Email = *n.Email
			}
			if n.SMS != nil {
				p.Preferences.Notifications.SMS = *n.SMS
			}
			if n.Push != nil {
				p.Preferences.Notifications.Push = *n.Push
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(problems, "; "))
	}
	return nil
}

func setMax(dst *string, v *string, limit int, field string, bad func(string, ...any)) {
	if v == nil {
		return
	}
	s := strings.TrimSpace(*v)
	if utf8.RuneCountInString(s) > limit {
		bad("%s must be at most %d characters", field, limit)
	}
	*dst = s
}

func lengthBetween(s string, lo, hi int) bool {
	n := utf8.RuneCountInString(s)
	return n >= lo && n <= hi
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
