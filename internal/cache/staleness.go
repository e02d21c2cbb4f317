package cache

import (
	"math"
	"sort"
	"strings"
	"time"
)

const day = 24 * time.Hour

// maxThresholdDays is the largest day count a time.Duration can hold.
const maxThresholdDays = int(math.MaxInt64 / int64(day))

// DocumentRef identifies a dated document.
type DocumentRef struct {
	ID   string `json:"id"`
	Date string `json:"date"`
}

// Ref returns r itself so DocumentRef satisfies Referencer.
func (r DocumentRef) Ref() DocumentRef { return r }

// Referencer is implemented by any document that carries an id and a date.
type Referencer interface {
	Ref() DocumentRef
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses the date formats documents are stored with. Values without
// a zone are read as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsOlderThanThreshold reports whether date lies more than thresholdDays
// before now. Unparsable dates are never old, and neither is anything when
// the threshold exceeds what a time.Duration can span.
func IsOlderThanThreshold(date string, thresholdDays int, now time.Time) bool {
	t, ok := ParseDate(date)
	if !ok || thresholdDays > maxThresholdDays {
		return false
	}
	if thresholdDays < -maxThresholdDays {
		thresholdDays = -maxThresholdDays
	}
	return now.Sub(t) > time.Duration(thresholdDays)*day
}

// SortByDateDescending returns a copy of docs ordered newest first. The sort
// is stable; unparsable dates sort as the Unix epoch.
func SortByDateDescending[T Referencer](docs []T) []T {
	type keyed struct {
		doc T
		at  int64
	}
	ks := make([]keyed, len(docs))
	for i, d := range docs {
		ks[i] = keyed{doc: d, at: sortKey(d.Ref().Date)}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].at > ks[j].at })

	out := make([]T, len(ks))
	for i, k := range ks {
		out[i] = k.doc
	}
	return out
}

// Newest returns the most recent document of docs.
func Newest[T Referencer](docs []T) (T, bool) {
	if len(docs) == 0 {
		var zero T
		return zero, false
	}
	return SortByDateDescending(docs)[0], true
}

func sortKey(date string) int64 {
	t, ok := ParseDate(date)
	if !ok {
		return 0
	}
	return t.UnixMilli()
}
