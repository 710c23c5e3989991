// Package ingest pulls corporate-action feeds from configured sources,
// resolves each row to a security and records every run in the sync log.
package ingest

import (
	"bytes"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/corpaction-cli/internal/fetcher"
	"github.com/sells-group/corpaction-cli/internal/model"
)

// actionNamespace seeds deterministic action IDs.
var actionNamespace = uuid.MustParse("0b9a1f64-4c1e-4f55-8f0e-7a3d2c1b5e90")

// Record is one row of a corporate-action feed. Header names are matched
// after normalization, so "Ex Date" and "ex-date" both bind to ex_date.
type Record struct {
	ISIN             string `csv:"isin,omitempty"`
	RIC              string `csv:"ric,omitempty"`
	CUSIP            string `csv:"cusip,omitempty"`
	StockCode        string `csv:"stock_code,omitempty"`
	EventType        string `csv:"event_type"`
	AnnouncementDate string `csv:"announcement_date,omitempty"`
	ExDate           string `csv:"ex_date"`
	RecordDate       string `csv:"record_date,omitempty"`
	PaymentDate      string `csv:"payment_date,omitempty"`
	Amount           string `csv:"amount,omitempty"`
	Rate             string `csv:"rate,omitempty"`
	Currency         string `csv:"currency,omitempty"`
	TaxTreatment     string `csv:"tax_treatment,omitempty"`
	Notes            string `csv:"notes,omitempty"`
}

// Identifiers returns the record's non-empty identifiers in scheme order.
func (r Record) Identifiers() []model.Identifier {
	var out []model.Identifier
	add := func(t model.IdentifierType, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, model.Identifier{Type: t, Value: v})
		}
	}
	add(model.IdentifierISIN, r.ISIN)
	add(model.IdentifierRIC, r.RIC)
	add(model.IdentifierCUSIP, r.CUSIP)
	add(model.IdentifierStockCode, r.StockCode)
	return out
}

var eventAliases = map[string]model.EventType{
	"split":         model.EventStockSplit,
	"cash_dividend": model.EventDividend,
	"spinoff":       model.EventSpinOff,
	"rights":        model.EventRightsOffering,
	"rights_issue":  model.EventRightsOffering,
	"tender":        model.EventTenderOffer,
}

// ParseEventType normalizes a feed's event label.
func ParseEventType(s string) (model.EventType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if e := model.EventType(key); e.Valid() {
		return e, nil
	}
	if e, ok := eventAliases[key]; ok {
		return e, nil
	}
	return "", eris.Errorf("ingest: unknown event type %q", s)
}

func parseOptionalDate(s string) (model.Date, error) {
	if strings.TrimSpace(s) == "" {
		return model.Date{}, nil
	}
	return model.ParseDate(s)
}

func parseAmount(s string) (*decimal.Decimal, error) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse amount %q", s)
	}
	return &d, nil
}

// ActionID derives a stable action ID from the reporting source, security,
// event type and ex-date.
func ActionID(source, securityID string, event model.EventType, ex model.Date) string {
	key := strings.Join([]string{strings.ToLower(source), securityID, string(event), ex.String()}, "|")
	return uuid.NewSHA1(actionNamespace, []byte(key)).String()
}

// ToAction converts r into a pending action of sec reported by source.
func (r Record) ToAction(sec *model.Security, source string, now time.Time) (model.CorporateAction, error) {
	var a model.CorporateAction
	event, err := ParseEventType(r.EventType)
	if err != nil {
		return a, err
	}
	ex, err := model.ParseDate(r.ExDate)
	if err != nil {
		return a, eris.Wrap(err, "ingest: ex_date")
	}
	dates := []struct {
		raw string
		dst *model.Date
	}{
		{r.AnnouncementDate, &a.AnnouncementDate},
		{r.RecordDate, &a.RecordDate},
		{r.PaymentDate, &a.PaymentDate},
	}
	for _, d := range dates {
		if *d.dst, err = parseOptionalDate(d.raw); err != nil {
			return a, err
		}
	}
	if a.Amount, err = parseAmount(r.Amount); err != nil {
		return a, err
	}

	a.ID = ActionID(source, sec.ID, event, ex)
	a.SecurityID = sec.ID
	a.SecurityName = sec.Name
	a.EventType = event
	a.ExDate = ex
	a.Rate = strings.TrimSpace(r.Rate)
	a.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if a.Currency == "" && a.Amount != nil {
		a.Currency = sec.Currency
	}
	a.TaxTreatment = strings.TrimSpace(r.TaxTreatment)
	a.Notes = strings.TrimSpace(r.Notes)
	a.Status = model.EventPending
	a.Source = source
	a.CreatedAt = now.UTC()
	a.CreatedBy = SystemUser
	if err := a.Validate(); err != nil {
		return a, err
	}
	return a, nil
}

// ParseFeed decodes a CSV or XLSX payload into records.
func ParseFeed(data []byte, format, sheet string) ([]Record, error) {
	var recs []Record
	switch strings.ToLower(format) {
	case "", "csv":
		if err := fetcher.DecodeCSV(bytes.NewReader(data), &recs); err != nil {
			return nil, eris.Wrap(err, "ingest: decode csv feed")
		}
	case "xlsx":
		if err := fetcher.DecodeXLSX(data, fetcher.XLSXOptions{SheetName: sheet}, &recs); err != nil {
			return nil, eris.Wrap(err, "ingest: decode xlsx feed")
		}
	default:
		return nil, eris.Errorf("ingest: unsupported feed format %q", format)
	}
	return recs, nil
}
