package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Confidence is a coarse label attached to a source observation.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Rank orders confidence labels; higher is stronger. Unknown labels rank 0.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// Valid reports whether c is a known confidence label.
func (c Confidence) Valid() bool { return c.Rank() > 0 }

// ConflictType names the field class sources disagree on.
type ConflictType string

const (
	ConflictAmount     ConflictType = "amount"
	ConflictDate       ConflictType = "date"
	ConflictIdentifier ConflictType = "identifier"
	ConflictEventType  ConflictType = "event_type"
)

// ConflictStatus is the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
	ConflictArchived   ConflictStatus = "archived"
)

// Valid reports whether s is a known conflict status.
func (s ConflictStatus) Valid() bool {
	switch s {
	case ConflictUnresolved, ConflictResolved, ConflictArchived:
		return true
	}
	return false
}

// Observation is what one source reported for a disputed event.
type Observation struct {
	Source      string            `json:"source"`
	ActionID    string            `json:"action_id,omitempty"`
	Data        map[string]string `json:"data"`
	RetrievedAt time.Time         `json:"retrieved_at"`
	Confidence  Confidence        `json:"confidence"`
}

// Conflict records a disagreement between sources about one corporate action.
type Conflict struct {
	ID              string         `json:"id"`
	SecurityID      string         `json:"security_id"`
	SecurityName    string         `json:"security_name"`
	EventType       EventType      `json:"event_type"`
	ConflictType    ConflictType   `json:"conflict_type"`
	Sources         []Observation  `json:"sources"`
	Details         string         `json:"details"`
	Status          ConflictStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	Resolution      string         `json:"resolution,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
}

// Observation returns the observation reported by source.
func (c *Conflict) Observation(source string) (Observation, bool) {
	for _, o := range c.Sources {
		if o.Source == source {
			return o, true
		}
	}
	return Observation{}, false
}

// Resolve marks the conflict resolved in favor of source.
func (c *Conflict) Resolve(source, user, notes string, at time.Time) error {
	if c.Status != ConflictUnresolved {
		return eris.Wrapf(ErrInvalidTransition, "model: conflict %s: %s -> %s", c.ID, c.Status, ConflictResolved)
	}
	if _, ok := c.Observation(source); !ok {
		return eris.Wrapf(ErrInvalidInput, "model: conflict %s: source %q did not report this event", c.ID, source)
	}
	at = at.UTC()
	c.Status = ConflictResolved
	c.Resolution = source
	c.ResolvedBy = user
	c.ResolutionNotes = notes
	c.ResolvedAt = &at
	return nil
}

// Archive shelves an unresolved conflict without choosing a source.
func (c *Conflict) Archive(user, notes string, at time.Time) error {
	if c.Status != ConflictUnresolved {
		return eris.Wrapf(ErrInvalidTransition, "model: conflict %s: %s -> %s", c.ID, c.Status, ConflictArchived)
	}
	at = at.UTC()
	c.Status = ConflictArchived
	c.ResolvedBy = user
	c.ResolutionNotes = notes
	c.ResolvedAt = &at
	return nil
}
