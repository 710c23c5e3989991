package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/corpaction-cli/internal/model"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "Société...", truncate("Société Générale SA", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "", truncate("abcdef", 0))
	assert.True(t, utf8.ValidString(truncate("日本電信電話株式会社", 5)))
}

func TestStamp(t *testing.T) {
	assert.Equal(t, "-", stamp(nil))
	ts := time.Date(2024, 11, 7, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-11-07 14:30", stamp(&ts))
}

func TestFormatActions(t *testing.T) {
	amt := decimal.RequireFromString("0.5")
	var buf bytes.Buffer
	formatActions(&buf, []model.CorporateAction{
		{ID: "CORP-1", SecurityID: "DBS-SG", EventType: model.EventDividend, ExDate: model.MustDate("2024-11-15"), Amount: &amt, Currency: "SGD", Status: model.EventPending, Source: "SGX"},
		{ID: "CORP-2", SecurityID: "OCBC-SG", EventType: model.EventStockSplit, ExDate: model.MustDate("2024-12-01"), Rate: "2:1", Status: model.EventConfirmed, Source: "Bloomberg"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "EX DATE")
	assert.Contains(t, lines[2], "0.50 SGD")
	assert.Contains(t, lines[3], "Stock Split")
	assert.Contains(t, lines[3], "2:1")
}

func TestFormatConflicts(t *testing.T) {
	var buf bytes.Buffer
	formatConflicts(&buf, []model.Conflict{{
		ID:           "CONF-1",
		SecurityID:   "DBS-SG",
		ConflictType: model.ConflictAmount,
		Sources:      []model.Observation{{Source: "Bloomberg"}, {Source: "Custodian"}},
		Details:      "0.50 vs 0.49",
		Status:       model.ConflictUnresolved,
	}})
	assert.Contains(t, buf.String(), "Bloomberg, Custodian")
	assert.Contains(t, buf.String(), "0.50 vs 0.49")
}

func TestFormatSources(t *testing.T) {
	last := time.Date(2024, 11, 7, 14, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatSources(&buf, []model.DataSourceStatus{
		{Name: "SGX", Status: model.SyncConnected, LastSync: &last, RecordsSynced24h: 1247, SyncFrequency: "Hourly"},
		{Name: "Custodian", Status: model.SyncDisconnected, SyncFrequency: "Every 2 hours"},
	})
	out := buf.String()
	assert.Contains(t, out, "2024-11-07 14:00")
	assert.Contains(t, out, "1247")
	assert.Contains(t, out, "disconnected")
}
