package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return "$" + strconv.Itoa(n) }

// where accumulates AND-ed conditions. Conditions use "?" for parameters,
// which are rewritten to the dialect's placeholders as they are added.
type where struct {
	ph      placeholder
	clauses []string
	args    []any
}

func newWhere(ph placeholder) *where {
	return &where{ph: ph}
}

func (w *where) add(cond string, args ...any) {
	var b strings.Builder
	i := 0
	for _, r := range cond {
		if r == '?' && i < len(args) {
			w.args = append(w.args, args[i])
			b.WriteString(w.ph(len(w.args)))
			i++
			continue
		}
		b.WriteRune(r)
	}
	w.clauses = append(w.clauses, b.String())
}

// next returns the placeholder for the next bound argument and binds v.
func (w *where) next(v any) string {
	w.args = append(w.args, v)
	return w.ph(len(w.args))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET. A negative limit disables the limit.
func (w *where) page(limit, offset int) string {
	var s string
	if l := limitOf(limit); l > 0 {
		s += " LIMIT " + w.next(l)
	}
	if offset > 0 {
		s += " OFFSET " + w.next(offset)
	}
	return s
}

func likePattern(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func (f SecurityFilter) where(ph placeholder) *where {
	w := newWhere(ph)
	if strings.TrimSpace(f.Query) != "" {
		p := likePattern(f.Query)
		w.add(`(lower(s.name) LIKE ? ESCAPE '\' OR EXISTS (SELECT 1 FROM security_identifiers i WHERE i.security_id = s.id AND lower(i.value) LIKE ? ESCAPE '\'))`, p, p)
	}
	if f.AssetClass != "" {
		w.add(`s.asset_class = ?`, string(f.AssetClass))
	}
	if f.Exchange != "" {
		w.add(`s.exchange = ?`, f.Exchange)
	}
	if f.Status != "" {
		w.add(`s.status = ?`, string(f.Status))
	}
	return w
}

func (f ActionFilter) where(ph placeholder) *where {
	w := newWhere(ph)
	if strings.TrimSpace(f.Query) != "" {
		p := likePattern(f.Query)
		w.add(`(lower(security_name) LIKE ? ESCAPE '\' OR lower(id) LIKE ? ESCAPE '\')`, p, p)
	}
	if f.SecurityID != "" {
		w.add(`security_id = ?`, f.SecurityID)
	}
	if f.EventType != "" {
		w.add(`event_type = ?`, string(f.EventType))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		args := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args[i] = string(s)
		}
		w.add(`status IN (`+strings.Join(marks, ", ")+`)`, args...)
	}
	if f.Source != "" {
		w.add(`source = ?`, f.Source)
	}
	if !f.CreatedSince.IsZero() {
		w.add(`created_at >= ?`, f.CreatedSince.UTC())
	}
	if !f.IncludeArchived {
		w.add(`archived_at IS NULL`)
	}
	return w
}

func (f ConflictFilter) where(ph placeholder) *where {
	w := newWhere(ph)
	if f.Status != "" {
		w.add(`status = ?`, string(f.Status))
	}
	if f.SecurityID != "" {
		w.add(`security_id = ?`, f.SecurityID)
	}
	return w
}

func (f SyncFilter) where(ph placeholder) *where {
	w := newWhere(ph)
	if f.Source != "" {
		w.add(`source = ?`, f.Source)
	}
	if f.Status != "" {
		w.add(`status = ?`, f.Status)
	}
	if !f.Since.IsZero() {
		w.add(`started_at >= ?`, f.Since.UTC())
	}
	return w
}

func (f AuditFilter) where(ph placeholder) *where {
	w := newWhere(ph)
	if f.Action != "" {
		w.add(`action = ?`, f.Action)
	}
	if f.Status != "" {
		w.add(`status = ?`, f.Status)
	}
	if f.User != "" {
		w.add(`user_email = ?`, f.User)
	}
	if !f.Since.IsZero() {
		w.add(`ts >= ?`, f.Since.UTC())
	}
	return w
}

// marshalJSON encodes v, mapping nil maps and slices to SQL NULL.
func marshalJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal json")
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
