package strategy

import (
	"sort"

	"quantlab/internal/domain"
)

// Columns maps a logical column a strategy reads ("macd", "fast_ma") to the
// physical frame columns that may carry it, in preference order. The table is
// fixed at construction; lookups walk it in order and take the first column
// present on the frame.
type Columns map[string][]string

// Resolve returns the first physical column for name present on f.
func (c Columns) Resolve(f *domain.Frame, name string) (string, bool) {
	if f == nil {
		return "", false
	}
	for _, col := range c[name] {
		if f.HasColumn(col) {
			return col, true
		}
	}
	return "", false
}

// Value returns the value of logical column name at bar i. ok is false when
// no alias is present or the value is NaN.
func (c Columns) Value(f *domain.Frame, name string, i int) (float64, bool) {
	col, ok := c.Resolve(f, name)
	if !ok {
		return 0, false
	}
	return f.Value(col, i)
}

// Missing returns the logical columns with no alias present on f, sorted.
func (c Columns) Missing(f *domain.Frame) []string {
	var out []string
	for name := range c {
		if _, ok := c.Resolve(f, name); !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Physical returns the preferred physical name for every logical column.
func (c Columns) Physical() []string {
	out := make([]string, 0, len(c))
	for _, aliases := range c {
		if len(aliases) > 0 {
			out = append(out, aliases[0])
		}
	}
	sort.Strings(out)
	return out
}
