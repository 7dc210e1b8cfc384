package infer

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/datacat/catalog/dataset"
)

// ladder lists candidate types from most to least specific. Text always holds.
var ladder = []dataset.DataType{
	dataset.TypeBoolean,
	dataset.TypeInteger,
	dataset.TypeFloat,
	dataset.TypeDatetime,
}

var booleanTokens = map[string]bool{
	"true": true, "false": true,
	"t": true, "f": true,
	"yes": true, "no": true,
}

// datetimeLayouts are tried in order; the first that parses wins.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"01/02/2006",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 03:04 PM",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2 Jan 2006",
}

func isBoolean(v string) bool {
	return booleanTokens[strings.ToLower(v)]
}

func parseInteger(v string) (int64, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func parseFloat(v string) (float64, bool) {
	// ParseFloat accepts "NaN" and "Inf"; a numeric column needs digits
	if !strings.ContainsAny(v, "0123456789") {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func parseDatetime(v string) (time.Time, bool) {
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func satisfies(t dataset.DataType, v string) bool {
	switch t {
	case dataset.TypeBoolean:
		return isBoolean(v)
	case dataset.TypeInteger:
		_, ok := parseInteger(v)
		return ok
	case dataset.TypeFloat:
		_, ok := parseFloat(v)
		return ok
	case dataset.TypeDatetime:
		_, ok := parseDatetime(v)
		return ok
	}
	return true
}

// InferType returns the most specific type every non-empty cell satisfies.
// Empty cells are skipped; a column with no non-empty cells is text.
func InferType(cells []string) dataset.DataType {
	remaining := make(map[dataset.DataType]bool, len(ladder))
	for _, t := range ladder {
		remaining[t] = true
	}

	seen := 0
	for i := 0; i < len(cells) && len(remaining) > 0; i++ {
		v := strings.TrimSpace(cells[i])
		if v == "" {
			continue
		}
		seen++
		for t := range remaining {
			if !satisfies(t, v) {
				delete(remaining, t)
			}
		}
	}

	if seen == 0 {
		return dataset.TypeText
	}
	for _, t := range ladder {
		if remaining[t] {
			return t
		}
	}
	return dataset.TypeText
}

// Profile is what sampling learned about one column.
type Profile struct {
	Type     dataset.DataType
	Sample   []string // Up to dataset.MaxSampleValues distinct values, in order of appearance
	HasNulls bool
	Smallest string // Set for numeric and datetime columns
	Largest  string
}

// ProfileColumn infers the type of cells and collects samples, null presence and range.
func ProfileColumn(cells []string) Profile {
	p := Profile{Type: InferType(cells)}

	distinct := make(map[string]bool)
	var values []string
	for _, raw := range cells {
		v := strings.TrimSpace(raw)
		if v == "" {
			p.HasNulls = true
			continue
		}
		values = append(values, v)
		if len(p.Sample) < dataset.MaxSampleValues && !distinct[v] {
			distinct[v] = true
			p.Sample = append(p.Sample, v)
		}
	}

	if len(values) > 0 {
		if less := orderFor(p.Type); less != nil {
			sort.SliceStable(values, func(i, j int) bool { return less(values[i], values[j]) })
			p.Smallest = values[0]
			p.Largest = values[len(values)-1]
		}
	}

	return p
}

// orderFor returns a comparison for types with a natural order, nil otherwise.
// Values passed to it are known to satisfy t.
func orderFor(t dataset.DataType) func(a, b string) bool {
	switch t {
	case dataset.TypeInteger, dataset.TypeFloat:
		return func(a, b string) bool {
			x, _ := parseFloat(a)
			y, _ := parseFloat(b)
			return x < y
		}
	case dataset.TypeDatetime:
		return func(a, b string) bool {
			x, _ := parseDatetime(a)
			y, _ := parseDatetime(b)
			return x.Before(y)
		}
	}
	return nil
}

// Describe profiles every header column of s.
func Describe(s *Sample) []dataset.Column {
	columns := make([]dataset.Column, 0, len(s.Header))
	machine := dataset.ColumnNames(s.Header)
	for i, name := range s.Header {
		p := ProfileColumn(s.Cells(i))
		col := dataset.Column{
			HumanName:   name,
			MachineName: machine[i],
			Type:        p.Type,
			Sample:      p.Sample,
			HasNulls:    &p.HasNulls,
		}
		if p.Smallest != "" {
			smallest, largest := p.Smallest, p.Largest
			col.Smallest = &smallest
			col.Largest = &largest
		}
		columns = append(columns, col)
	}
	return columns
}
