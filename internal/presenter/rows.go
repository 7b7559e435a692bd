package presenter

import (
	"sort"
	"strings"
)

// Field names a sortable column of the tabular view.
type Field string

const (
	FieldNone Field = ""
	Field1    Field = "field1"
	Field2    Field = "field2"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Row is one line of the result split into two columns.
type Row struct {
	Field1 string
	Field2 string
}

// ParseRows splits each non-empty line of result at its first separator
// (=, :, comma or tab). Lines without a separator fill Field1 only.
func ParseRows(result *string) []Row {
	if result == nil {
		return nil
	}

	var rows []Row
	for _, line := range strings.Split(*result, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.IndexAny(line, "=:,\t")
		if idx < 0 {
			rows = append(rows, Row{Field1: line})
			continue
		}
		rows = append(rows, Row{
			Field1: strings.TrimSpace(line[:idx]),
			Field2: strings.TrimSpace(line[idx+1:]),
		})
	}
	return rows
}

// SortState is the session-local sort selection. The zero value is unsorted.
type SortState struct {
	Field     Field
	Direction Direction
}

// Toggle selects field. Selecting the current field flips the direction;
// selecting another field sorts it ascending.
func (s SortState) Toggle(field Field) SortState {
	if s.Field == field {
		if s.Direction == Asc {
			return SortState{Field: field, Direction: Desc}
		}
		return SortState{Field: field, Direction: Asc}
	}
	return SortState{Field: field, Direction: Asc}
}

// Indicator returns the arrow shown next to field's header.
func (s SortState) Indicator(field Field) string {
	if s.Field == FieldNone || s.Field != field {
		return ""
	}
	if s.Direction == Desc {
		return "↓"
	}
	return "↑"
}

// SortRows returns a sorted copy of rows.
func SortRows(rows []Row, s SortState) []Row {
	out := append([]Row(nil), rows...)
	if s.Field == FieldNone {
		return out
	}

	key := func(r Row) string {
		if s.Field == Field2 {
			return r.Field2
		}
		return r.Field1
	}
	sort.SliceStable(out, func(i, j int) bool {
		if s.Direction == Desc {
			return key(out[i]) > key(out[j])
		}
		return key(out[i]) < key(out[j])
	})
	return out
}

// RowStrings converts rows for ui.Table.
func RowStrings(rows []Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.Field1, r.Field2}
	}
	return out
}
