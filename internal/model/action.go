package model

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned when a lifecycle change is not allowed
// from the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidInput is returned for values a caller supplied that can never be
// valid, such as an unknown status or source.
var ErrInvalidInput = errors.New("invalid input")

// EventType is the kind of corporate action.
type EventType string

const (
	EventDividend       EventType = "dividend"
	EventStockSplit     EventType = "stock_split"
	EventMerger         EventType = "merger"
	EventRightsOffering EventType = "rights_offering"
	EventSpinOff        EventType = "spin_off"
	EventTenderOffer    EventType = "tender_offer"
)

var eventLabels = map[EventType]string{
	EventDividend:       "Dividend",
	EventStockSplit:     "Stock Split",
	EventMerger:         "Merger",
	EventRightsOffering: "Rights Offering",
	EventSpinOff:        "Spin-off",
	EventTenderOffer:    "Tender Offer",
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	_, ok := eventLabels[e]
	return ok
}

// Label returns the human-readable name, or the raw value for unknown types.
func (e EventType) Label() string {
	if l, ok := eventLabels[e]; ok {
		return l
	}
	return string(e)
}

// EventStatus is the lifecycle state of a corporate action.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventConfirmed EventStatus = "confirmed"
	EventSettled   EventStatus = "settled"
	EventVoided    EventStatus = "voided"
)

// Valid reports whether s is a known event status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventConfirmed, EventSettled, EventVoided:
		return true
	}
	return false
}

// Active reports whether the action still awaits settlement.
func (s EventStatus) Active() bool {
	return s == EventPending || s == EventConfirmed
}

// CanTransition reports whether an action may move from s to next.
// pending -> confirmed -> settled; pending and confirmed may be voided.
func (s EventStatus) CanTransition(next EventStatus) bool {
	switch s {
	case EventPending:
		return next == EventConfirmed || next == EventVoided
	case EventConfirmed:
		return next == EventSettled || next == EventVoided
	}
	return false
}

// CorporateAction is one company event as reported by a single source.
type CorporateAction struct {
	ID               string           `json:"id"`
	SecurityID       string           `json:"security_id"`
	SecurityName     string           `json:"security_name"`
	EventType        EventType        `json:"event_type"`
	AnnouncementDate Date             `json:"announcement_date,omitzero"`
	ExDate           Date             `json:"ex_date"`
	RecordDate       Date             `json:"record_date,omitzero"`
	PaymentDate      Date             `json:"payment_date,omitzero"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Rate             string           `json:"rate,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	TaxTreatment     string           `json:"tax_treatment,omitempty"`
	Status           EventStatus      `json:"status"`
	Source           string           `json:"source"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CreatedBy        string           `json:"created_by"`
	ArchivedAt       *time.Time       `json:"archived_at,omitempty"`
}

// Transition moves the action to next, enforcing the lifecycle.
func (a *CorporateAction) Transition(next EventStatus) error {
	if !next.Valid() {
		return eris.Wrapf(ErrInvalidInput, "model: unknown event status %q", next)
	}
	if !a.Status.CanTransition(next) {
		return eris.Wrapf(ErrInvalidTransition, "model: action %s: %s -> %s", a.ID, a.Status, next)
	}
	a.Status = next
	return nil
}

// SettledBefore reports whether the action is settled and its last relevant
// date (payment, else ex) falls before cutoff.
func (a *CorporateAction) SettledBefore(cutoff Date) bool {
	if a.Status != EventSettled {
		return false
	}
	last := a.PaymentDate
	if last.IsZero() {
		last = a.ExDate
	}
	return last.Before(cutoff.Time)
}

// Validate checks the fields each event type requires and date ordering.
func (a *CorporateAction) Validate() error {
	if a.SecurityID == "" {
		return eris.Errorf("model: action %s: security_id is required", a.ID)
	}
	if !a.EventType.Valid() {
		return eris.Errorf("model: action %s: invalid event type %q", a.ID, a.EventType)
	}
	if !a.Status.Valid() {
		return eris.Errorf("model: action %s: invalid status %q", a.ID, a.Status)
	}
	if a.ExDate.IsZero() {
		return eris.Errorf("model: action %s: ex_date is required", a.ID)
	}

	switch a.EventType {
	case EventDividend:
		if a.Amount == nil {
			return eris.Errorf("model: action %s: dividend requires an amount", a.ID)
		}
		if a.Amount.IsNegative() {
			return eris.Errorf("model: action %s: negative amount %s", a.ID, a.Amount)
		}
		if a.Currency == "" {
			return eris.Errorf("model: action %s: dividend requires a currency", a.ID)
		}
	case EventStockSplit:
		if _, _, err := ParseRatio(a.Rate); err != nil {
			return eris.Wrapf(err, "model: action %s", a.ID)
		}
	}

	if !a.AnnouncementDate.IsZero() && a.AnnouncementDate.After(a.ExDate.Time) {
		return eris.Errorf("model: action %s: announcement date after ex date", a.ID)
	}
	if !a.PaymentDate.IsZero() {
		if a.PaymentDate.Before(a.ExDate.Time) {
			return eris.Errorf("model: action %s: payment date before ex date", a.ID)
		}
		if !a.RecordDate.IsZero() && a.PaymentDate.Before(a.RecordDate.Time) {
			return eris.Errorf("model: action %s: payment date before record date", a.ID)
		}
	}
	return nil
}

// ParseRatio parses an "old:new" split ratio such as "1:2".
func ParseRatio(rate string) (int, int, error) {
	left, right, ok := strings.Cut(strings.TrimSpace(rate), ":")
	if !ok {
		return 0, 0, eris.Errorf("model: invalid ratio %q", rate)
	}
	from, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil || from <= 0 {
		return 0, 0, eris.Errorf("model: invalid ratio %q", rate)
	}
	to, err := strconv.Atoi(strings.TrimSpace(right))
	if err != nil || to <= 0 {
		return 0, 0, eris.Errorf("model: invalid ratio %q", rate)
	}
	return from, to, nil
}
