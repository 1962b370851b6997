package event

import (
	"encoding/json"
	"errors"
)

// TypeSubscriptionGift is the event type of SubscriptionGift.
const TypeSubscriptionGift = "subscription.gift"

// SubscriptionGift records a subscription gifted by one user to another.
// It is immutable once constructed.
type SubscriptionGift struct {
	username     string
	recipient    string
	months       string
	plan         string
	giftedMonths string
	fromBulk     bool
}

// GiftOption sets optional fields of a SubscriptionGift.
type GiftOption func(*SubscriptionGift)

// WithMonths sets the cumulative months of the recipient's subscription.
func WithMonths(months string) GiftOption {
	return func(g *SubscriptionGift) { g.months = months }
}

// WithGiftedMonths sets how many months were gifted at once.
func WithGiftedMonths(months string) GiftOption {
	return func(g *SubscriptionGift) { g.giftedMonths = months }
}

// WithFromBulk marks the gift as part of a bulk gift.
func WithFromBulk(fromBulk bool) GiftOption {
	return func(g *SubscriptionGift) { g.fromBulk = fromBulk }
}

// NewSubscriptionGift creates a gift from username to recipient on plan.
func NewSubscriptionGift(username, recipient, plan string, opts ...GiftOption) SubscriptionGift {
	g := SubscriptionGift{
		username:  username,
		recipient: recipient,
		plan:      plan,
	}
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

// Username returns the user who gifted the subscription.
func (g SubscriptionGift) Username() string { return g.username }

// Recipient returns the user who received the subscription.
func (g SubscriptionGift) Recipient() string { return g.recipient }

// Plan returns the subscription plan (1000, 2000, 3000 or Prime).
func (g SubscriptionGift) Plan() string { return g.plan }

// FromBulk reports whether the gift likely came from a bulk gift.
func (g SubscriptionGift) FromBulk() bool { return g.fromBulk }

// Months returns the recipient's cumulative months, "1" when unknown.
func (g SubscriptionGift) Months() string {
	if g.months == "" {
		return "1"
	}
	return g.months
}

// GiftedMonths returns the number of months gifted, "1" when unknown.
func (g SubscriptionGift) GiftedMonths() string {
	if g.giftedMonths == "" {
		return "1"
	}
	return g.giftedMonths
}

// Event wraps the gift in an Event.
func (g SubscriptionGift) Event() Event {
	return New(TypeSubscriptionGift, g)
}

type giftJSON struct {
	Username     string `json:"username"`
	Recipient    string `json:"recipient"`
	Months       string `json:"months,omitempty"`
	Plan         string `json:"plan"`
	GiftedMonths string `json:"giftedMonths,omitempty"`
	FromBulk     bool   `json:"fromBulk,omitempty"`
}

// MarshalJSON encodes the gift with defaults applied.
func (g SubscriptionGift) MarshalJSON() ([]byte, error) {
	return json.Marshal(giftJSON{
		Username:     g.username,
		Recipient:    g.recipient,
		Months:       g.Months(),
		Plan:         g.plan,
		GiftedMonths: g.GiftedMonths(),
		FromBulk:     g.fromBulk,
	})
}

// ErrInvalidGift is returned when a decoded gift lacks required fields.
var ErrInvalidGift = errors.New("subscription gift requires username, recipient and plan")

// DecodeSubscriptionGift parses a gift from JSON.
func DecodeSubscriptionGift(data []byte) (SubscriptionGift, error) {
	var raw giftJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return SubscriptionGift{}, err
	}
	if raw.Username == "" || raw.Recipient == "" || raw.Plan == "" {
		return SubscriptionGift{}, ErrInvalidGift
	}
	return NewSubscriptionGift(raw.Username, raw.Recipient, raw.Plan,
		WithMonths(raw.Months),
		WithGiftedMonths(raw.GiftedMonths),
		WithFromBulk(raw.FromBulk),
	), nil
}
