package audits

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vigil-sec/vigil/internal/shared"
)

// Timeframe is a relative window ending now.
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

// Timeframes lists the accepted windows.
var Timeframes = []Timeframe{Timeframe24h, Timeframe7d, Timeframe30d}

// Duration returns the window length.
func (t Timeframe) Duration() (time.Duration, bool) {
	switch t {
	case Timeframe24h:
		return 24 * time.Hour, true
	case Timeframe7d:
		return 7 * 24 * time.Hour, true
	case Timeframe30d:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// HistoryQuery is the raw history request of one user.
type HistoryQuery struct {
	UserID     int64
	Page       int
	PageSize   int
	StartDate  *time.Time
	EndDate    *time.Time
	Timeframe  string
	Statuses   []string
	Severities []string
}

// HistoryFilter is the compiled WHERE clause of a history query. Placeholders
// are numbered from $1 in Args order; the owner predicate is always first.
type HistoryFilter struct {
	Where      string
	Args       []any
	Page       int
	PageSize   int
	Statuses   []Status
	Severities []Severity
	Timeframe  Timeframe
	// Dropped holds the rejected filter values, for logging.
	Dropped []string

	from *time.Time
	to   *time.Time
}

// Bounds returns the effective creation window, the intersection of the
// explicit range and the timeframe. Nil means unbounded.
func (f HistoryFilter) Bounds() (from, to *time.Time) {
	return f.from, f.to
}

// Offset is the number of rows to skip for the filter's page.
func (f HistoryFilter) Offset() int {
	return shared.Offset(f.Page, f.PageSize)
}

// BuildHistoryFilter validates q and compiles it against now. Explicit dates
// and the timeframe are ANDed. Unknown status, severity and timeframe values
// are dropped and reported in Dropped.
func BuildHistoryFilter(q HistoryQuery, now time.Time) (HistoryFilter, error) {
	if q.StartDate != nil && q.EndDate != nil && q.StartDate.After(*q.EndDate) {
		return HistoryFilter{}, ErrInvalidDateRange
	}
	if q.PageSize == 0 {
		q.PageSize = shared.DefaultPageSize
	}
	page, size := shared.NormalizePage(q.Page, q.PageSize)
	f := HistoryFilter{Page: page, PageSize: size}

	var clauses []string
	add := func(format string, arg any) {
		f.Args = append(f.Args, arg)
		clauses = append(clauses, fmt.Sprintf(format, len(f.Args)))
	}

	add("p.owner_id = $%d", q.UserID)

	if q.StartDate != nil {
		start := *q.StartDate
		add("a.created_at >= $%d", start)
		f.from = &start
	}
	if q.EndDate != nil {
		end := *q.EndDate
		add("a.created_at <= $%d", end)
		f.to = &end
	}

	if tf := Timeframe(strings.TrimSpace(q.Timeframe)); tf != "" {
		if d, ok := tf.Duration(); ok {
			since := now.Add(-d)
			add("a.created_at >= $%d", since)
			f.Timeframe = tf
			if f.from == nil || since.After(*f.from) {
				f.from = &since
			}
		} else {
			f.Dropped = append(f.Dropped, "timeframe="+string(tf))
		}
	}

	statuses, dropped := allowList(q.Statuses, func(v string) (Status, bool) {
		s := Status(strings.ToUpper(v))
		return s, s.Valid()
	})
	f.Dropped = append(f.Dropped, lo.Map(dropped, func(v string, _ int) string { return "status=" + v })...)
	if len(statuses) > 0 && len(statuses) < len(Statuses) {
		f.Statuses = statuses
		add("a.status = ANY($%d)", lo.Map(statuses, func(s Status, _ int) string { return string(s) }))
	}

	severities, dropped := allowList(q.Severities, func(v string) (Severity, bool) {
		s := Severity(strings.ToUpper(v))
		return s, s.Valid()
	})
	f.Dropped = append(f.Dropped, lo.Map(dropped, func(v string, _ int) string { return "severity=" + v })...)
	if len(severities) > 0 {
		f.Severities = severities
		add("a.overall_severity = ANY($%d)", lo.Map(severities, func(s Severity, _ int) string { return string(s) }))
	}

	f.Where = strings.Join(clauses, " AND ")
	return f, nil
}

// allowList keeps the values parse accepts, deduplicated in input order, and
// returns the rejected ones separately. Blank values are ignored.
func allowList[T comparable](values []string, parse func(string) (T, bool)) ([]T, []string) {
	var kept []T
	var rejected []string
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if v, ok := parse(raw); ok {
			kept = append(kept, v)
		} else {
			rejected = append(rejected, raw)
		}
	}
	return lo.Uniq(kept), rejected
}
