package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dbs() Security {
	return Security{
		ID:         "DBS-SG",
		Name:       "DBS Group Holdings Limited",
		AssetClass: AssetClassEquity,
		Exchange:   "SGX",
		Currency:   "SGD",
		Status:     SecurityStatusActive,
		Identifiers: []Identifier{
			{Type: IdentifierISIN, Value: "SG9999009436", ValidFrom: MustDate("2010-01-01")},
			{Type: IdentifierRIC, Value: "DBSM.SI", ValidFrom: MustDate("2010-01-01")},
			{Type: IdentifierStockCode, Value: "D05", ValidFrom: MustDate("2010-01-01")},
		},
	}
}

func TestSecurity_MatchIdentifier(t *testing.T) {
	s := dbs()

	tests := []struct {
		name  string
		query string
		want  IdentifierType
		found bool
	}{
		{"exact isin", "SG9999009436", IdentifierISIN, true},
		{"lower ric", "dbsm.si", IdentifierRIC, true},
		{"mixed stock code", "d05", IdentifierStockCode, true},
		{"substring is not a match", "DBSM", "", false},
		{"unknown", "INVALID123", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := s.MatchIdentifier(tt.query)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, id.Type)
		})
	}
}

func TestSecurity_IdentifierOf(t *testing.T) {
	s := dbs()
	s.Identifiers = append(s.Identifiers,
		Identifier{Type: IdentifierCUSIP, Value: "OLD000001", ValidFrom: MustDate("2005-01-01"), ValidTo: MustDate("2009-12-31")},
	)

	_, ok := s.IdentifierOf(IdentifierCUSIP, MustDate("2024-01-01"))
	assert.False(t, ok)

	id, ok := s.IdentifierOf(IdentifierCUSIP, MustDate("2008-06-30"))
	require.True(t, ok)
	assert.Equal(t, "OLD000001", id.Value)
}

func TestSecurity_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s := dbs()
		assert.NoError(t, s.Validate())
	})

	t.Run("duplicate overlapping identifier", func(t *testing.T) {
		s := dbs()
		s.Identifiers = append(s.Identifiers, Identifier{Type: IdentifierRIC, Value: "dbsm.si", ValidFrom: MustDate("2015-01-01")})
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate identifier")
	})

	t.Run("same value in disjoint windows", func(t *testing.T) {
		s := dbs()
		s.Identifiers = []Identifier{
			{Type: IdentifierRIC, Value: "DBSM.SI", ValidFrom: MustDate("2000-01-01"), ValidTo: MustDate("2004-12-31")},
			{Type: IdentifierRIC, Value: "DBSM.SI", ValidFrom: MustDate("2010-01-01")},
		}
		assert.NoError(t, s.Validate())
	})

	t.Run("bad asset class", func(t *testing.T) {
		s := dbs()
		s.AssetClass = "crypto"
		assert.Error(t, s.Validate())
	})

	t.Run("missing name", func(t *testing.T) {
		s := dbs()
		s.Name = " "
		assert.Error(t, s.Validate())
	})

	t.Run("inverted validity", func(t *testing.T) {
		s := dbs()
		s.Identifiers[0].ValidTo = MustDate("2000-01-01")
		assert.Error(t, s.Validate())
	})
}
