// Package export renders corporate actions and conflicts as an XLSX workbook.
package export

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// Sheet names in the exported workbook.
const (
	ActionsSheet   = "Actions"
	ConflictsSheet = "Conflicts"
	SummarySheet   = "Summary"
)

// Store is the subset of store.Store the exporter reads.
type Store interface {
	ListActions(ctx context.Context, filter store.ActionFilter) ([]model.CorporateAction, error)
	ListConflicts(ctx context.Context, filter store.ConflictFilter) ([]model.Conflict, error)
}

// Summary counts what a workbook contains.
type Summary struct {
	Actions   int `json:"actions"`
	Conflicts int `json:"conflicts"`
}

var actionHeader = []string{
	"ID", "Security", "Security ID", "Event Type", "Announcement Date", "Ex Date", "Record Date",
	"Payment Date", "Amount", "Rate", "Currency", "Tax Treatment", "Status", "Source", "Created By", "Created At",
}

var conflictHeader = []string{
	"ID", "Security", "Security ID", "Event Type", "Conflict Type", "Sources", "Details", "Status",
	"Created At", "Resolution", "Resolved By", "Resolved At", "Notes",
}

// Write renders the actions matching filter, every conflict and a summary
// sheet, and writes the workbook to w.
func Write(ctx context.Context, st Store, filter store.ActionFilter, w io.Writer) (Summary, error) {
	var sum Summary
	if filter.Limit == 0 {
		filter.Limit = -1
	}
	actions, err := st.ListActions(ctx, filter)
	if err != nil {
		return sum, eris.Wrap(err, "export: list actions")
	}
	conflicts, err := st.ListConflicts(ctx, store.ConflictFilter{Limit: -1})
	if err != nil {
		return sum, eris.Wrap(err, "export: list conflicts")
	}

	f := xlsx.NewFile()
	if err := addActions(f, actions); err != nil {
		return sum, err
	}
	if err := addConflicts(f, conflicts); err != nil {
		return sum, err
	}
	if err := addSummary(f, actions, conflicts); err != nil {
		return sum, err
	}
	if err := f.Write(w); err != nil {
		return sum, eris.Wrap(err, "export: write workbook")
	}
	sum.Actions, sum.Conflicts = len(actions), len(conflicts)
	return sum, nil
}

func addActions(f *xlsx.File, actions []model.CorporateAction) error {
	sheet, err := f.AddSheet(ActionsSheet)
	if err != nil {
		return eris.Wrap(err, "export: add actions sheet")
	}
	addRow(sheet, actionHeader...)
	for _, a := range actions {
		row := sheet.AddRow()
		strs(row, a.ID, a.SecurityName, a.SecurityID, a.EventType.Label(),
			a.AnnouncementDate.String(), a.ExDate.String(), a.RecordDate.String(), a.PaymentDate.String())
		cell := row.AddCell()
		if a.Amount != nil {
			v, _ := a.Amount.Float64()
			cell.SetFloatWithFormat(v, "0.00##")
		}
		strs(row, a.Rate, a.Currency, a.TaxTreatment, string(a.Status), a.Source, a.CreatedBy, stamp(&a.CreatedAt))
	}
	return nil
}

func addConflicts(f *xlsx.File, conflicts []model.Conflict) error {
	sheet, err := f.AddSheet(ConflictsSheet)
	if err != nil {
		return eris.Wrap(err, "export: add conflicts sheet")
	}
	addRow(sheet, conflictHeader...)
	for _, c := range conflicts {
		sources := ""
		for i, o := range c.Sources {
			if i > 0 {
				sources += ", "
			}
			sources += o.Source
		}
		addRow(sheet, c.ID, c.SecurityName, c.SecurityID, c.EventType.Label(), string(c.ConflictType),
			sources, c.Details, string(c.Status), stamp(&c.CreatedAt), c.Resolution, c.ResolvedBy,
			stamp(c.ResolvedAt), c.ResolutionNotes)
	}
	return nil
}

func addSummary(f *xlsx.File, actions []model.CorporateAction, conflicts []model.Conflict) error {
	sheet, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	section := func(title string, counts map[string]int) {
		addRow(sheet, title, "Count")
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			row := sheet.AddRow()
			row.AddCell().SetString(k)
			row.AddCell().SetInt(counts[k])
		}
		sheet.AddRow()
	}

	byType := make(map[string]int)
	byStatus := make(map[string]int)
	bySource := make(map[string]int)
	for _, a := range actions {
		byType[a.EventType.Label()]++
		byStatus[string(a.Status)]++
		bySource[a.Source]++
	}
	byConflict := make(map[string]int)
	for _, c := range conflicts {
		byConflict[string(c.Status)]++
	}
	section("Event Type", byType)
	section("Action Status", byStatus)
	section("Source", bySource)
	section("Conflict Status", byConflict)
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	strs(sheet.AddRow(), values...)
}

func strs(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
