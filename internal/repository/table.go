package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

// Kind tells the table how to parse filter values for a column and which
// query operations the column supports.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindTime
	KindID
	// KindJSON columns (arrays, documents) can be projected but not filtered
	// or sorted.
	KindJSON
)

// Column maps an API field onto a SQL column or expression.
type Column struct {
	// Field is the API name used in filters, sorts and projections. It must
	// equal the json tag of the record field.
	Field string
	// DB is the column name and the db tag of the record field.
	DB string
	// Expr overrides the select expression, for computed or joined values.
	Expr string
	Kind Kind
	// Hidden columns are left out of the default projection.
	Hidden bool
	// Secret columns are never exposed to queries.
	Secret bool
	// ReadOnly columns are never written.
	ReadOnly bool
	// Immutable columns are written on insert only.
	Immutable bool
}

// Unique maps a unique constraint onto the field it protects.
type Unique struct {
	Field   string
	Message string
}

// Schema describes one record collection.
type Schema[T any] struct {
	Table   string
	Alias   string
	Joins   string
	Columns []Column
	// Scope is a condition on the table alias applied to every read and
	// write, such as hiding soft-deleted rows.
	Scope string
	// Uniques maps constraint names onto field errors.
	Uniques map[string]Unique
	// ID exposes the primary key of a record.
	ID func(*T) *string
}

// Table is a generic SQL-backed record collection.
type Table[T any] struct {
	db      *sqlx.DB
	schema  Schema[T]
	byField map[string]Column
}

// NewTable validates the schema against T and returns a table. A schema that
// does not match T is a programming error and panics.
func NewTable[T any](db *sqlx.DB, schema Schema[T]) *Table[T] {
	if schema.Alias == "" {
		schema.Alias = "t"
	}
	var zero T
	typeMap := db.Mapper.TypeMap(reflect.TypeOf(zero))
	byField := make(map[string]Column, len(schema.Columns))
	for i, col := range schema.Columns {
		if typeMap.GetByPath(col.DB) == nil {
			panic(fmt.Sprintf("repository: %T has no db field %q", zero, col.DB))
		}
		if col.Expr == "" {
			col.Expr = schema.Alias + "." + col.DB
			schema.Columns[i] = col
		}
		byField[col.Field] = col
	}
	if _, ok := byField["id"]; !ok {
		panic(fmt.Sprintf("repository: schema of %s has no id column", schema.Table))
	}
	return &Table[T]{db: db, schema: schema, byField: byField}
}

// DB exposes the handle for domain-specific queries.
func (t *Table[T]) DB() *sqlx.DB {
	return t.db
}

// Fields resolves a projection into the list of visible API fields. The id is
// always part of the result.
func (t *Table[T]) Fields(p query.Projection) ([]string, error) {
	if p.IsDefault() {
		return t.defaultFields(nil), nil
	}
	named := make(map[string]struct{}, len(p.Fields))
	for _, field := range p.Fields {
		if _, err := t.column(query.KeyFields, field); err != nil {
			return nil, err
		}
		named[field] = struct{}{}
	}
	if p.Exclude {
		return t.defaultFields(named), nil
	}
	fields := []string{"id"}
	for _, field := range p.Fields {
		if field != "id" {
			fields = append(fields, field)
		}
	}
	return fields, nil
}

func (t *Table[T]) defaultFields(excluded map[string]struct{}) []string {
	fields := make([]string, 0, len(t.schema.Columns))
	for _, col := range t.schema.Columns {
		if col.Hidden || col.Secret {
			continue
		}
		if _, skip := excluded[col.Field]; skip && col.Field != "id" {
			continue
		}
		fields = append(fields, col.Field)
	}
	return fields
}

// Find returns one page of records matching spec intersected with scope,
// plus the total number of matching records.
func (t *Table[T]) Find(ctx context.Context, spec query.Spec, scope ...query.Term) ([]T, int, error) {
	where, args, err := t.where(append(append([]query.Term(nil), scope...), spec.Filter()...))
	if err != nil {
		return nil, 0, err
	}
	order, err := t.orderBy(spec.Sort())
	if err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d OFFSET %d",
		t.selectList(), t.from(), where, order, spec.Limit(), spec.Skip())
	records := make([]T, 0)
	if err := t.db.SelectContext(ctx, &records, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", t.schema.Table, err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", t.from(), where)
	var total int
	if err := t.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", t.schema.Table, err)
	}
	return records, total, nil
}

// FindByID returns the record or sql.ErrNoRows. Malformed ids are absent.
func (t *Table[T]) FindByID(ctx context.Context, id string) (*T, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s.id = $1%s LIMIT 1",
		t.selectList(), t.from(), t.schema.Alias, t.scopeSuffix())
	var record T
	if err := t.db.GetContext(ctx, &record, stmt, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find %s by id: %w", t.schema.Table, err)
	}
	return &record, nil
}

// FindOne returns the first record where the column equals value.
func (t *Table[T]) FindOne(ctx context.Context, field, value string) (*T, error) {
	where, args, err := t.where([]query.Term{{Field: field, Op: query.OpEq, Value: value}})
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", t.selectList(), t.from(), where)
	var record T
	if err := t.db.GetContext(ctx, &record, stmt, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find %s by %s: %w", t.schema.Table, field, err)
	}
	return &record, nil
}

// FindAll returns every in-scope record matching the equality terms, in
// creation order.
func (t *Table[T]) FindAll(ctx context.Context, terms ...query.Term) ([]T, error) {
	where, args, err := t.where(terms)
	if err != nil {
		return nil, err
	}
	order, err := t.orderBy(nil)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s", t.selectList(), t.from(), where, order)
	records := make([]T, 0)
	if err := t.db.SelectContext(ctx, &records, stmt, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", t.schema.Table, err)
	}
	return records, nil
}

// Insert assigns a new id to record, stores it and returns the id.
func (t *Table[T]) Insert(ctx context.Context, record *T) (string, error) {
	id := uuid.NewString()
	*t.schema.ID(record) = id

	v := reflect.ValueOf(record).Elem()
	var (
		cols         []string
		placeholders []string
		args         []interface{}
	)
	for _, col := range t.schema.Columns {
		if col.ReadOnly {
			continue
		}
		cols = append(cols, col.DB)
		args = append(args, t.db.Mapper.FieldByName(v, col.DB).Interface())
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.schema.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := t.db.ExecContext(ctx, stmt, args...); err != nil {
		return "", t.writeError("insert", err)
	}
	return id, nil
}

// Update writes every mutable column of record. It returns sql.ErrNoRows when
// the record does not exist or is out of scope.
func (t *Table[T]) Update(ctx context.Context, record *T) error {
	v := reflect.ValueOf(record).Elem()
	args := []interface{}{*t.schema.ID(record)}
	var sets []string
	for _, col := range t.schema.Columns {
		if col.ReadOnly || col.Immutable || col.DB == "id" {
			continue
		}
		args = append(args, t.db.Mapper.FieldByName(v, col.DB).Interface())
		sets = append(sets, fmt.Sprintf("%s = $%d", col.DB, len(args)))
	}
	stmt := fmt.Sprintf("UPDATE %s AS %s SET %s WHERE %s.id = $1%s",
		t.schema.Table, t.schema.Alias, strings.Join(sets, ", "), t.schema.Alias, t.scopeSuffix())
	res, err := t.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return t.writeError("update", err)
	}
	return requireAffected(res)
}

// Delete removes the record or returns sql.ErrNoRows.
func (t *Table[T]) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return sql.ErrNoRows
	}
	stmt := fmt.Sprintf("DELETE FROM %s AS %s WHERE %s.id = $1%s",
		t.schema.Table, t.schema.Alias, t.schema.Alias, t.scopeSuffix())
	res, err := t.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.schema.Table, err)
	}
	return requireAffected(res)
}

func (t *Table[T]) selectList() string {
	parts := make([]string, len(t.schema.Columns))
	for i, col := range t.schema.Columns {
		if col.Expr == t.schema.Alias+"."+col.DB {
			parts[i] = col.Expr
			continue
		}
		parts[i] = col.Expr + " AS " + col.DB
	}
	return strings.Join(parts, ", ")
}

func (t *Table[T]) from() string {
	from := t.schema.Table + " " + t.schema.Alias
	if t.schema.Joins != "" {
		from += " " + t.schema.Joins
	}
	return from
}

func (t *Table[T]) scopeSuffix() string {
	if t.schema.Scope == "" {
		return ""
	}
	return " AND " + t.schema.Scope
}

func (t *Table[T]) where(terms []query.Term) (string, []interface{}, error) {
	conds := make([]string, 0, len(terms)+1)
	if t.schema.Scope != "" {
		conds = append(conds, t.schema.Scope)
	}
	args := make([]interface{}, 0, len(terms))
	for _, term := range terms {
		col, err := t.column(term.Field, term.Field)
		if err != nil {
			return "", nil, err
		}
		if col.Kind == KindJSON {
			return "", nil, invalidField(term.Field, "field cannot be filtered")
		}
		value, err := parseValue(col.Kind, term.Value)
		if err != nil {
			return "", nil, invalidField(term.Field, err.Error())
		}
		if term.Op != query.OpEq && (col.Kind == KindBool || col.Kind == KindID) {
			return "", nil, invalidField(term.Field, "field supports equality only")
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s %s $%d", col.Expr, sqlOperators[term.Op], len(args)))
	}
	if len(conds) == 0 {
		return "1=1", args, nil
	}
	return strings.Join(conds, " AND "), args, nil
}

// orderBy always ends with the id so pages never overlap.
func (t *Table[T]) orderBy(keys []query.SortKey) (string, error) {
	idExpr := t.schema.Alias + ".id"
	if len(keys) == 0 {
		if col, ok := t.byField["createdAt"]; ok {
			return col.Expr + " ASC, " + idExpr + " ASC", nil
		}
		return idExpr + " ASC", nil
	}
	parts := make([]string, 0, len(keys)+1)
	hasID := false
	for _, key := range keys {
		col, err := t.column(query.KeySort, key.Field)
		if err != nil {
			return "", err
		}
		if col.Kind == KindJSON {
			return "", invalidField(query.KeySort, fmt.Sprintf("cannot sort by %s", key.Field))
		}
		dir := "ASC"
		if key.Desc {
			dir = "DESC"
		}
		parts = append(parts, col.Expr+" "+dir)
		hasID = hasID || col.Field == "id"
	}
	if !hasID {
		parts = append(parts, idExpr+" ASC")
	}
	return strings.Join(parts, ", "), nil
}

func (t *Table[T]) column(param, field string) (Column, error) {
	col, ok := t.byField[field]
	if !ok || col.Secret {
		return Column{}, invalidField(param, fmt.Sprintf("unknown field %q", field))
	}
	return col, nil
}

func (t *Table[T]) fieldOf(dbColumn string) (string, bool) {
	for _, col := range t.schema.Columns {
		if col.DB == dbColumn && !col.Secret {
			return col.Field, true
		}
	}
	return "", false
}

func (t *Table[T]) writeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			if u, ok := t.schema.Uniques[pqErr.Constraint]; ok {
				return appErrors.FieldError(u.Field, u.Message)
			}
			return appErrors.Clone(appErrors.ErrValidation, "duplicate value")
		case "23503":
			return appErrors.Clone(appErrors.ErrValidation, "referenced record does not exist")
		case "23514", "22P02":
			return appErrors.Clone(appErrors.ErrValidation, "invalid input data")
		case "23502":
			if field, ok := t.fieldOf(pqErr.Column); ok {
				return appErrors.FieldError(field, "is required")
			}
			return appErrors.Clone(appErrors.ErrValidation, "missing required field")
		}
	}
	return fmt.Errorf("%s %s: %w", op, t.schema.Table, err)
}

var sqlOperators = map[query.Op]string{
	query.OpEq:  "=",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

func parseValue(kind Kind, raw string) (interface{}, error) {
	switch kind {
	case KindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return n, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	case KindTime:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("%q is not a date", raw)
	case KindID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not an id", raw)
		}
		return id.String(), nil
	default:
		return raw, nil
	}
}

func invalidField(param, reason string) error {
	appErr := appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("invalid query parameter %s: %s", param, reason))
	appErr.Details = map[string]string{param: reason}
	return appErr
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
