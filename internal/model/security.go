package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// AssetClass classifies a security.
type AssetClass string

const (
	AssetClassEquity     AssetClass = "equity"
	AssetClassBond       AssetClass = "bond"
	AssetClassFund       AssetClass = "fund"
	AssetClassDerivative AssetClass = "derivative"
)

// Valid reports whether c is a known asset class.
func (c AssetClass) Valid() bool {
	switch c {
	case AssetClassEquity, AssetClassBond, AssetClassFund, AssetClassDerivative:
		return true
	}
	return false
}

// SecurityStatus is the lifecycle state of a security.
type SecurityStatus string

const (
	SecurityStatusActive   SecurityStatus = "active"
	SecurityStatusInactive SecurityStatus = "inactive"
	SecurityStatusArchived SecurityStatus = "archived"
)

// Valid reports whether s is a known security status.
func (s SecurityStatus) Valid() bool {
	switch s {
	case SecurityStatusActive, SecurityStatusInactive, SecurityStatusArchived:
		return true
	}
	return false
}

// IdentifierType is the scheme an identifier value belongs to.
type IdentifierType string

const (
	IdentifierISIN      IdentifierType = "ISIN"
	IdentifierRIC       IdentifierType = "RIC"
	IdentifierCUSIP     IdentifierType = "CUSIP"
	IdentifierStockCode IdentifierType = "stock_code"
)

// IdentifierTypes lists every supported identifier scheme in display order.
func IdentifierTypes() []IdentifierType {
	return []IdentifierType{IdentifierISIN, IdentifierRIC, IdentifierCUSIP, IdentifierStockCode}
}

// Valid reports whether t is a known identifier scheme.
func (t IdentifierType) Valid() bool {
	switch t {
	case IdentifierISIN, IdentifierRIC, IdentifierCUSIP, IdentifierStockCode:
		return true
	}
	return false
}

// Identifier is one (type, value) mapping attached to a security, valid from
// ValidFrom until ValidTo (open-ended when zero).
type Identifier struct {
	Type      IdentifierType `json:"type"`
	Value     string         `json:"value"`
	ValidFrom Date           `json:"valid_from"`
	ValidTo   Date           `json:"valid_to,omitzero"`
}

// ActiveOn reports whether the identifier is valid on day d.
func (i Identifier) ActiveOn(d Date) bool {
	if !i.ValidFrom.IsZero() && d.Before(i.ValidFrom.Time) {
		return false
	}
	if !i.ValidTo.IsZero() && d.After(i.ValidTo.Time) {
		return false
	}
	return true
}

// overlaps reports whether the validity windows of i and o intersect.
func (i Identifier) overlaps(o Identifier) bool {
	if !i.ValidTo.IsZero() && !o.ValidFrom.IsZero() && i.ValidTo.Before(o.ValidFrom.Time) {
		return false
	}
	if !o.ValidTo.IsZero() && !i.ValidFrom.IsZero() && o.ValidTo.Before(i.ValidFrom.Time) {
		return false
	}
	return true
}

// Security is an instrument in the securities master.
type Security struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	AssetClass  AssetClass     `json:"asset_class"`
	Exchange    string         `json:"exchange"`
	Currency    string         `json:"currency"`
	Status      SecurityStatus `json:"status"`
	Identifiers []Identifier   `json:"identifiers"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IdentifierKey is the case-folded form identifiers are matched and stored
// by.
func IdentifierKey(value string) string { return strings.ToUpper(value) }

// MatchIdentifier returns the first identifier whose value equals value,
// ignoring letter case. Identifiers are scanned in order.
func (s *Security) MatchIdentifier(value string) (Identifier, bool) {
	key := IdentifierKey(value)
	for _, id := range s.Identifiers {
		if IdentifierKey(id.Value) == key {
			return id, true
		}
	}
	return Identifier{}, false
}

// IdentifierOf returns the first identifier of type t active on day d.
func (s *Security) IdentifierOf(t IdentifierType, d Date) (Identifier, bool) {
	for _, id := range s.Identifiers {
		if id.Type == t && id.ActiveOn(d) {
			return id, true
		}
	}
	return Identifier{}, false
}

// Validate checks required fields, enumerations, and that no (type, value)
// pair appears twice with overlapping validity.
func (s *Security) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return eris.New("model: security id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return eris.Errorf("model: security %s: name is required", s.ID)
	}
	if !s.AssetClass.Valid() {
		return eris.Errorf("model: security %s: invalid asset class %q", s.ID, s.AssetClass)
	}
	if !s.Status.Valid() {
		return eris.Errorf("model: security %s: invalid status %q", s.ID, s.Status)
	}
	for i, id := range s.Identifiers {
		if !id.Type.Valid() {
			return eris.Errorf("model: security %s: invalid identifier type %q", s.ID, id.Type)
		}
		if strings.TrimSpace(id.Value) == "" {
			return eris.Errorf("model: security %s: empty %s identifier", s.ID, id.Type)
		}
		if !id.ValidTo.IsZero() && id.ValidTo.Before(id.ValidFrom.Time) {
			return eris.Errorf("model: security %s: %s %s valid_to precedes valid_from", s.ID, id.Type, id.Value)
		}
		for _, other := range s.Identifiers[i+1:] {
			if other.Type == id.Type && IdentifierKey(other.Value) == IdentifierKey(id.Value) && id.overlaps(other) {
				return eris.Errorf("model: security %s: duplicate identifier %s %s", s.ID, id.Type, id.Value)
			}
		}
	}
	return nil
}
