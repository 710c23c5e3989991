package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dividend() CorporateAction {
	amt := decimal.RequireFromString("0.50")
	return CorporateAction{
		ID:               "CORP-12345",
		SecurityID:       "DBS-SG",
		SecurityName:     "DBS Group Holdings Limited",
		EventType:        EventDividend,
		AnnouncementDate: MustDate("2024-10-20"),
		ExDate:           MustDate("2024-11-15"),
		RecordDate:       MustDate("2024-11-16"),
		PaymentDate:      MustDate("2024-12-15"),
		Amount:           &amt,
		Currency:         "SGD",
		Status:           EventConfirmed,
		Source:           "Bloomberg",
	}
}

func TestEventStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to EventStatus
		ok       bool
	}{
		{EventPending, EventConfirmed, true},
		{EventPending, EventVoided, true},
		{EventPending, EventSettled, false},
		{EventConfirmed, EventSettled, true},
		{EventConfirmed, EventVoided, true},
		{EventConfirmed, EventPending, false},
		{EventSettled, EventVoided, false},
		{EventVoided, EventPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestCorporateAction_Transition(t *testing.T) {
	a := dividend()
	require.NoError(t, a.Transition(EventSettled))
	assert.Equal(t, EventSettled, a.Status)

	err := a.Transition(EventVoided)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	assert.Error(t, a.Transition("bogus"))
}

func TestCorporateAction_Validate(t *testing.T) {
	t.Run("valid dividend", func(t *testing.T) {
		a := dividend()
		assert.NoError(t, a.Validate())
	})

	t.Run("dividend without amount", func(t *testing.T) {
		a := dividend()
		a.Amount = nil
		assert.ErrorContains(t, a.Validate(), "requires an amount")
	})

	t.Run("dividend without currency", func(t *testing.T) {
		a := dividend()
		a.Currency = ""
		assert.ErrorContains(t, a.Validate(), "requires a currency")
	})

	t.Run("split needs ratio", func(t *testing.T) {
		a := dividend()
		a.EventType = EventStockSplit
		a.Amount = nil
		a.Rate = "two for one"
		assert.Error(t, a.Validate())
		a.Rate = "1:2"
		assert.NoError(t, a.Validate())
	})

	t.Run("payment before ex", func(t *testing.T) {
		a := dividend()
		a.PaymentDate = MustDate("2024-11-01")
		assert.ErrorContains(t, a.Validate(), "payment date before ex date")
	})

	t.Run("announcement after ex", func(t *testing.T) {
		a := dividend()
		a.AnnouncementDate = MustDate("2024-12-01")
		assert.Error(t, a.Validate())
	})

	t.Run("missing ex date", func(t *testing.T) {
		a := dividend()
		a.ExDate = Date{}
		assert.ErrorContains(t, a.Validate(), "ex_date is required")
	})
}

func TestCorporateAction_SettledBefore(t *testing.T) {
	a := dividend()
	cutoff := MustDate("2025-01-01")
	assert.False(t, a.SettledBefore(cutoff), "confirmed actions are never archived")

	a.Status = EventSettled
	assert.True(t, a.SettledBefore(cutoff))
	assert.False(t, a.SettledBefore(MustDate("2024-12-01")))

	a.PaymentDate = Date{}
	assert.True(t, a.SettledBefore(MustDate("2024-12-01")), "falls back to ex date")
}

func TestParseRatio(t *testing.T) {
	from, to, err := ParseRatio(" 1 : 2 ")
	require.NoError(t, err)
	assert.Equal(t, 1, from)
	assert.Equal(t, 2, to)

	for _, bad := range []string{"", "1", "0:2", "a:b", "1:-3"} {
		_, _, err := ParseRatio(bad)
		assert.Error(t, err, bad)
	}
}

func TestEventType_Label(t *testing.T) {
	assert.Equal(t, "Stock Split", EventStockSplit.Label())
	assert.Equal(t, "Spin-off", EventSpinOff.Label())
	assert.Equal(t, "buyback", EventType("buyback").Label())
}
