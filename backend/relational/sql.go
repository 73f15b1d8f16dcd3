package relational

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

// identifierPattern restricts table and column names to plain SQL
// identifiers, since they are rendered into statement text.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateIdentifier(name string) error {
	if name == "" {
		return errors.New("invalid identifier: cannot be empty")
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must contain only alphanumeric characters and underscores, and must start with a letter or underscore", name)
	}
	return nil
}

// query accumulates statement text and its bind arguments.
type query struct {
	d    Dialect
	cols statement.ColumnMap
	sb   strings.Builder
	args []any
}

func newQuery(d Dialect) *query {
	return &query{d: d, cols: Columns}
}

func (q *query) write(parts ...string) *query {
	for _, p := range parts {
		q.sb.WriteString(p)
	}
	return q
}

// ident renders a quoted column or table name.
func (q *query) ident(name string) (string, error) {
	if err := validateIdentifier(name); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalidArguments, err)
	}
	return `"` + name + `"`, nil
}

// column renders the quoted physical column for an engine attribute.
func (q *query) column(attr string) (string, error) {
	return q.ident(q.cols.Physical(attr))
}

// bind appends an argument and returns its placeholder.
func (q *query) bind(v any) string {
	q.args = append(q.args, bindValue(v))
	return q.d.placeholder(len(q.args))
}

// bindValue converts nested documents to JSON text, which every supported
// driver accepts.
func bindValue(v any) any {
	switch v.(type) {
	case map[string]any, []any, []string:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	case json.Number:
		return v.(json.Number).String()
	}
	return v
}

func (q *query) String() string { return q.sb.String() }

// condition renders c. A nil condition renders nothing and reports false.
func (q *query) condition(c statement.Condition) (string, bool, error) {
	switch v := c.(type) {
	case nil:
		return "", false, nil
	case statement.Exists:
		col, err := q.column(v.Attr)
		return col + " IS NOT NULL", true, err
	case statement.NotExists:
		col, err := q.column(v.Attr)
		return col + " IS NULL", true, err
	case statement.Compare:
		col, err := q.column(v.Attr)
		if err != nil {
			return "", false, err
		}
		op := " = "
		if v.Cmp == statement.NE {
			op = " <> "
		}
		return col + op + q.bind(v.Value), true, nil
	case statement.And:
		return q.join(v, " AND ")
	case statement.Or:
		return q.join(v, " OR ")
	}
	return "", false, fmt.Errorf("relational: unsupported condition %T", c)
}

func (q *query) join(members []statement.Condition, sep string) (string, bool, error) {
	var parts []string
	for _, m := range members {
		s, ok, err := q.condition(m)
		if err != nil {
			return "", false, err
		}
		if ok {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", false, nil
	}
	return "(" + strings.Join(parts, sep) + ")", true, nil
}

// where writes a WHERE clause from conds, skipping empty ones.
func (q *query) where(conds ...statement.Condition) error {
	s, ok, err := q.condition(statement.AllOf(conds...))
	if err != nil || !ok {
		return err
	}
	q.write(" WHERE ", s)
	return nil
}

// renderUpdate renders an UPDATE of one row returning the full row.
func renderUpdate(d Dialect, table, pk string, u *statement.Update) (*query, error) {
	q := newQuery(d)
	t, err := q.ident(table)
	if err != nil {
		return nil, err
	}
	q.write("UPDATE ", t, " SET ")
	for i, a := range u.Actions {
		col, err := q.column(a.Attr)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			q.write(", ")
		}
		switch a.Op {
		case statement.OpSet:
			q.write(col, " = ", q.bind(a.Value))
		case statement.OpRemove:
			q.write(col, " = NULL")
		case statement.OpAdd:
			q.write(col, " = COALESCE(", col, ", 0) + ", q.bind(a.Value))
		default:
			return nil, fmt.Errorf("relational: unsupported action %s", a.Op)
		}
	}
	if err := q.where(statement.Equal(pk, u.Key), u.Where); err != nil {
		return nil, err
	}
	q.write(" RETURNING *")
	return q, nil
}

// renderInsert renders an insert-if-absent returning the new row.
func renderInsert(d Dialect, table, pk string, ins *statement.Insert) (*query, error) {
	q := newQuery(d)
	t, err := q.ident(table)
	if err != nil {
		return nil, err
	}
	key, err := q.ident(pk)
	if err != nil {
		return nil, err
	}

	cols := []string{key}
	vals := []string{q.bind(ins.Key)}
	for _, a := range ins.Values {
		col, err := q.column(a.Attr)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		vals = append(vals, q.bind(a.Value))
	}
	q.write("INSERT INTO ", t, " (", strings.Join(cols, ", "), ") VALUES (", strings.Join(vals, ", "), ")")
	q.write(" ON CONFLICT (", key, ") DO NOTHING RETURNING *")
	return q, nil
}

// renderSelect renders a keyed page read. A positive limit fetches one
// extra row so the caller can tell whether more remain.
func renderSelect(d Dialect, table, pk string, conds []statement.Condition, after any, limit int) (*query, error) {
	q := newQuery(d)
	t, err := q.ident(table)
	if err != nil {
		return nil, err
	}
	key, err := q.ident(pk)
	if err != nil {
		return nil, err
	}
	q.write("SELECT * FROM ", t)
	s, ok, err := q.condition(statement.AllOf(conds...))
	if err != nil {
		return nil, err
	}
	switch {
	case ok && after != nil:
		q.write(" WHERE ", s, " AND ", key, " > ", q.bind(after))
	case ok:
		q.write(" WHERE ", s)
	case after != nil:
		q.write(" WHERE ", key, " > ", q.bind(after))
	}
	q.write(" ORDER BY ", key)
	if limit > 0 {
		q.write(" LIMIT ", strconv.Itoa(limit+1))
	}
	return q, nil
}
