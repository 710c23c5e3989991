package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sells-group/corpaction-cli/internal/model"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(out io.Writer, header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	dashes := make([]string, len(header))
	for i, h := range header {
		dashes[i] = strings.Repeat("-", len(h))
	}
	_, _ = fmt.Fprintln(w, strings.Join(dashes, "\t"))
	return w
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:max(n, 0)])
	}
	return string(r[:n-3]) + "..."
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func formatLookup(out io.Writer, res *model.LookupResult) {
	if !res.Found {
		_, _ = fmt.Fprintf(out, "No security matches %q.\n", res.Query)
		if len(res.Suggestions) > 0 {
			_, _ = fmt.Fprintln(out, "Did you mean:")
			for _, s := range res.Suggestions {
				_, _ = fmt.Fprintf(out, "  %s (%s) %d%% match\n", s.Name, s.SecurityID, s.Match)
			}
		}
		return
	}
	sec := res.Security
	_, _ = fmt.Fprintf(out, "%s (%s)\n", sec.Name, sec.ID)
	_, _ = fmt.Fprintf(out, "  %s on %s, %s, %s\n", sec.AssetClass, sec.Exchange, sec.Currency, sec.Status)
	if res.Matched != nil {
		_, _ = fmt.Fprintf(out, "  matched %s %s\n", res.Matched.Type, res.Matched.Value)
	}
	w := newTable(out, "TYPE", "VALUE", "VALID FROM", "VALID TO")
	for _, id := range sec.Identifiers {
		to := "-"
		if !id.ValidTo.IsZero() {
			to = id.ValidTo.String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id.Type, id.Value, id.ValidFrom, to)
	}
	_ = w.Flush()
	for _, s := range res.DataSources {
		_, _ = fmt.Fprintf(out, "  source %s last synced %s\n", s.Source, stamp(s.LastSynced))
	}
}

func formatSecurities(out io.Writer, secs []model.Security) {
	w := newTable(out, "ID", "NAME", "CLASS", "EXCHANGE", "STATUS", "IDENTIFIERS")
	for _, s := range secs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", s.ID, truncate(s.Name, 40), s.AssetClass, s.Exchange, s.Status, len(s.Identifiers))
	}
	_ = w.Flush()
}

func formatActions(out io.Writer, actions []model.CorporateAction) {
	w := newTable(out, "ID", "SECURITY", "TYPE", "EX DATE", "AMOUNT", "STATUS", "SOURCE")
	for _, a := range actions {
		amount := a.Rate
		if a.Amount != nil {
			amount = a.Amount.StringFixed(2) + " " + a.Currency
		}
		if amount == "" {
			amount = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.SecurityID, a.EventType.Label(), a.ExDate, amount, a.Status, a.Source)
	}
	_ = w.Flush()
}

func formatConflicts(out io.Writer, conflicts []model.Conflict) {
	w := newTable(out, "ID", "SECURITY", "TYPE", "SOURCES", "DETAILS", "STATUS")
	for _, c := range conflicts {
		names := make([]string, 0, len(c.Sources))
		for _, o := range c.Sources {
			names = append(names, o.Source)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.SecurityID, c.ConflictType, strings.Join(names, ", "), truncate(c.Details, 40), c.Status)
	}
	_ = w.Flush()
}

func formatSources(out io.Writer, statuses []model.DataSourceStatus) {
	w := newTable(out, "SOURCE", "STATUS", "LAST SYNC", "NEXT SYNC", "RECORDS 24H", "FREQUENCY")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.Name, s.Status, stamp(s.LastSync), stamp(s.NextSync), s.RecordsSynced24h, s.SyncFrequency)
	}
	_ = w.Flush()
}
