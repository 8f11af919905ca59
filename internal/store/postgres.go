package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Postgres implements Store over database/sql (pgx stdlib driver).
// Table and column names are validated identifiers; values are always bound.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	b := &sqlBuilder{}
	where, err := b.where(q.Filters, q.Search)
	if err != nil {
		return nil, err
	}
	t, err := ident(table)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(t)
	sb.WriteString(where)
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			c, err := ident(o.Column)
			if err != nil {
				return nil, err
			}
			if o.Desc {
				parts = append(parts, c+" DESC")
			} else {
				parts = append(parts, c+" ASC")
			}
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.bind(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(b.bind(q.Offset))
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (p *Postgres) Count(ctx context.Context, table string, q Query) (int, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	b := &sqlBuilder{}
	where, err := b.where(q.Filters, q.Search)
	if err != nil {
		return 0, err
	}
	t, err := ident(table)
	if err != nil {
		return 0, err
	}
	var n int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t+where, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (p *Postgres) Insert(ctx context.Context, table string, row Row) (Row, error) {
	t, err := ident(table)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: empty insert", ErrInvalidQuery)
	}
	b := &sqlBuilder{}
	cols := make([]string, 0, len(row))
	vals := make([]string, 0, len(row))
	for _, k := range sortedKeys(row) {
		c, err := ident(k)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		vals = append(vals, b.bind(row[k]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", t, strings.Join(cols, ", "), strings.Join(vals, ", "))

	rows, err := p.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("insert %s: expected 1 returned row, got %d", table, len(out))
	}
	return out[0], nil
}

func (p *Postgres) Update(ctx context.Context, table string, filters []Filter, patch Row) ([]Row, error) {
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: update without filters", ErrInvalidQuery)
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidQuery)
	}
	if err := (Query{Filters: filters}).validate(); err != nil {
		return nil, err
	}
	t, err := ident(table)
	if err != nil {
		return nil, err
	}
	b := &sqlBuilder{}
	sets := make([]string, 0, len(patch))
	for _, k := range sortedKeys(patch) {
		c, err := ident(k)
		if err != nil {
			return nil, err
		}
		sets = append(sets, c+" = "+b.bind(patch[k]))
	}
	where, err := b.where(filters, Search{})
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", t, strings.Join(sets, ", "), where)

	rows, err := p.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) where(filters []Filter, s Search) (string, error) {
	conds := make([]string, 0, len(filters)+1)
	for _, f := range filters {
		c, err := ident(f.Column)
		if err != nil {
			return "", err
		}
		switch f.Op {
		case OpEq:
			conds = append(conds, c+" = "+b.bind(f.Value))
		case OpIEq:
			conds = append(conds, "lower("+c+") = lower("+b.bind(f.Value)+")")
		case OpNeq:
			// Mirrors the memory store: NULL never satisfies a comparison.
			conds = append(conds, c+" <> "+b.bind(f.Value))
		case OpGt:
			conds = append(conds, c+" > "+b.bind(f.Value))
		case OpGte:
			conds = append(conds, c+" >= "+b.bind(f.Value))
		case OpLt:
			conds = append(conds, c+" < "+b.bind(f.Value))
		case OpLte:
			conds = append(conds, c+" <= "+b.bind(f.Value))
		case OpIsNull:
			conds = append(conds, c+" IS NULL")
		case OpNotNull:
			conds = append(conds, c+" IS NOT NULL")
		case OpIn:
			values := f.Value.([]any)
			if len(values) == 0 {
				conds = append(conds, "FALSE")
				continue
			}
			ph := make([]string, len(values))
			for i, v := range values {
				ph[i] = b.bind(v)
			}
			conds = append(conds, c+" IN ("+strings.Join(ph, ", ")+")")
		}
	}

	term := strings.TrimSpace(s.Term)
	if term != "" {
		pattern := b.bind("%" + escapeLike(term) + "%")
		ors := make([]string, 0, len(s.Columns))
		for _, col := range s.Columns {
			c, err := ident(col)
			if err != nil {
				return "", err
			}
			ors = append(ors, c+"::text ILIKE "+pattern)
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("%w: bad identifier %q", ErrInvalidQuery, name)
	}
	return `"` + name + `"`, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = normalize(vals[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
