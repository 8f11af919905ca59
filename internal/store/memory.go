package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and local development.
// It applies the same filter/order/search semantics as the Postgres store,
// including NULLS LAST on ascending and NULLS FIRST on descending order.
type Memory struct {
	mu      sync.Mutex
	tables  map[string][]Row
	autoInc map[string]string
	seq     map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		tables:  map[string][]Row{},
		autoInc: map[string]string{},
		seq:     map[string]int64{},
	}
}

// AutoIncrement makes Insert assign the next int64 to column when the row
// does not carry one, like a BIGSERIAL primary key.
func (m *Memory) AutoIncrement(table, column string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoInc[table] = column
	return m
}

// Seed appends rows as-is (after normalization), bypassing auto increment.
func (m *Memory) Seed(table string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		n := normalizeRow(r)
		if col, ok := m.autoInc[table]; ok {
			if id, ok := n[col].(int64); ok && id > m.seq[table] {
				m.seq[table] = id
			}
		}
		m.tables[table] = append(m.tables[table], n)
	}
}

func (m *Memory) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := m.match(table, q.Filters, q.Search)
	sortRows(matched, q.Order)

	if q.Offset >= len(matched) {
		return []Row{}, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	out := make([]Row, len(matched))
	for i, r := range matched {
		out[i] = cloneRow(r)
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, table string, q Query) (int, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.match(table, q.Filters, q.Search)), nil
}

func (m *Memory) Insert(ctx context.Context, table string, row Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := normalizeRow(row)
	if col, ok := m.autoInc[table]; ok && n[col] == nil {
		m.seq[table]++
		n[col] = m.seq[table]
	}
	m.tables[table] = append(m.tables[table], n)
	return cloneRow(n), nil
}

func (m *Memory) Update(ctx context.Context, table string, filters []Filter, patch Row) ([]Row, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: update without filters", ErrInvalidQuery)
	}
	if err := (Query{Filters: filters}).validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p := normalizeRow(patch)
	out := make([]Row, 0)
	for _, r := range m.tables[table] {
		if !matchesAll(r, filters) {
			continue
		}
		for k, v := range p {
			r[k] = v
		}
		out = append(out, cloneRow(r))
	}
	return out, nil
}

// match returns the live rows of table; callers must clone before returning.
func (m *Memory) match(table string, filters []Filter, s Search) []Row {
	out := make([]Row, 0)
	term := strings.ToLower(strings.TrimSpace(s.Term))
	for _, r := range m.tables[table] {
		if !matchesAll(r, filters) {
			continue
		}
		if term != "" && !matchesSearch(r, s.Columns, term) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesAll(r Row, filters []Filter) bool {
	for _, f := range filters {
		if !matches(r[f.Column], f) {
			return false
		}
	}
	return true
}

func matches(v any, f Filter) bool {
	switch f.Op {
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	case OpIEq:
		s, ok := v.(string)
		return ok && strings.EqualFold(s, f.Value.(string))
	case OpIn:
		for _, want := range f.Value.([]any) {
			if c, ok := compare(v, normalize(want)); ok && c == 0 {
				return true
			}
		}
		return false
	}

	c, ok := compare(v, normalize(f.Value))
	if !ok {
		// SQL semantics: comparisons against NULL are never true.
		return false
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

func matchesSearch(r Row, cols []string, term string) bool {
	for _, col := range cols {
		if s, ok := r[col].(string); ok && strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

// compare orders two normalized values of the same type. ok is false when
// either side is nil or the types differ.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func sortRows(rows []Row, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := rows[i][o.Column], rows[j][o.Column]
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				// NULL is the largest value: last ascending, first descending.
				return o.Desc
			case b == nil:
				return !o.Desc
			}
			c, ok := compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
