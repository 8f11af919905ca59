package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the generic table interface the engine is written against.
//
// It mirrors what a hosted table backend exposes to a browser client:
// equality/range filters, ordering, a case-insensitive "contains" across
// several columns, and offset+limit pagination. Implementations must not
// interpret table semantics; invariants belong to the services above.
type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Count(ctx context.Context, table string, q Query) (int, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, filters []Filter, patch Row) ([]Row, error)
}

// Row is a single record keyed by column name.
//
// Values are normalized to string, int64, bool, time.Time (UTC) or nil.
type Row map[string]any

var ErrInvalidQuery = errors.New("store: invalid query")

type Op string

const (
	OpEq      Op = "eq"
	OpIEq     Op = "ieq"
	OpNeq     Op = "neq"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpIn      Op = "in"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
)

type Filter struct {
	Column string
	Op     Op
	// Value is ignored for OpIsNull/OpNotNull and must be a []any for OpIn.
	Value any
}

func Eq(col string, v any) Filter  { return Filter{Column: col, Op: OpEq, Value: v} }
// IEq matches text case-insensitively.
func IEq(col, v string) Filter { return Filter{Column: col, Op: OpIEq, Value: v} }

func Neq(col string, v any) Filter { return Filter{Column: col, Op: OpNeq, Value: v} }
func Gt(col string, v any) Filter  { return Filter{Column: col, Op: OpGt, Value: v} }
func Gte(col string, v any) Filter { return Filter{Column: col, Op: OpGte, Value: v} }
func Lt(col string, v any) Filter  { return Filter{Column: col, Op: OpLt, Value: v} }
func Lte(col string, v any) Filter { return Filter{Column: col, Op: OpLte, Value: v} }
func IsNull(col string) Filter     { return Filter{Column: col, Op: OpIsNull} }
func NotNull(col string) Filter    { return Filter{Column: col, Op: OpNotNull} }

func In(col string, values []any) Filter { return Filter{Column: col, Op: OpIn, Value: values} }

func InStrings(col string, values []string) Filter {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return In(col, out)
}

func InInt64s(col string, values []int64) Filter {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return In(col, out)
}

type Order struct {
	Column string
	Desc   bool
}

// Search is a case-insensitive substring match; a row matches when any of
// Columns contains Term. An empty Term disables the search.
type Search struct {
	Columns []string
	Term    string
}

type Query struct {
	Filters []Filter
	Search  Search
	Order   []Order
	Offset  int
	// Limit <= 0 means no limit.
	Limit int
}

func (q Query) validate() error {
	if q.Offset < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if err := f.validate(); err != nil {
			return err
		}
	}
	for _, o := range q.Order {
		if o.Column == "" {
			return fmt.Errorf("%w: empty order column", ErrInvalidQuery)
		}
	}
	if q.Search.Term != "" && len(q.Search.Columns) == 0 {
		return fmt.Errorf("%w: search without columns", ErrInvalidQuery)
	}
	return nil
}

func (f Filter) validate() error {
	if f.Column == "" {
		return fmt.Errorf("%w: empty filter column", ErrInvalidQuery)
	}
	switch f.Op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		if f.Value == nil {
			return fmt.Errorf("%w: nil value for %s on %s", ErrInvalidQuery, f.Op, f.Column)
		}
	case OpIEq:
		if _, ok := f.Value.(string); !ok {
			return fmt.Errorf("%w: ieq filter on %s needs a string", ErrInvalidQuery, f.Column)
		}
	case OpIn:
		if _, ok := f.Value.([]any); !ok {
			return fmt.Errorf("%w: in filter on %s needs []any", ErrInvalidQuery, f.Column)
		}
	case OpIsNull, OpNotNull:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidQuery, f.Op)
	}
	return nil
}

// normalize converts driver and caller values into the Row value set.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case uint32:
		return int64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	default:
		return v
	}
}

func normalizeRow(in Row) Row {
	out := make(Row, len(in))
	for k, v := range in {
		out[k] = normalize(v)
	}
	return out
}
