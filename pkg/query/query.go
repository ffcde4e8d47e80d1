// Package query turns raw request parameters into an immutable description of
// a filtered, sorted, projected and paginated fetch. It never touches a store;
// field names are passed through and validated by whoever executes the Spec.
package query

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Reserved parameter names.
const (
	KeySort   = "sort"
	KeyFields = "fields"
	KeyPage   = "page"
	KeyLimit  = "limit"
)

const (
	DefaultPage  = 1
	DefaultLimit = 100
)

// Term is a single field comparison. Terms of a Spec combine with AND.
type Term struct {
	Field string
	Op    Op
	Value string
}

// SortKey orders by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// Projection selects the fields returned for each record. An empty
// projection means the resource's default field set.
type Projection struct {
	Fields  []string
	Exclude bool
}

// IsDefault reports whether no explicit projection was requested.
func (p Projection) IsDefault() bool {
	return len(p.Fields) == 0
}

// Spec is the built query. Its fields are unexported and accessors return
// copies, so a Spec cannot change after Build.
type Spec struct {
	filter     []Term
	sort       []SortKey
	projection Projection
	page       int
	limit      int
}

// Filter returns the filter terms ordered by field then operator.
func (s Spec) Filter() []Term {
	return append([]Term(nil), s.filter...)
}

// Sort returns the sort keys in tie-break order. Empty means creation order.
func (s Spec) Sort() []SortKey {
	return append([]SortKey(nil), s.sort...)
}

// Projection returns the requested projection.
func (s Spec) Projection() Projection {
	return Projection{Fields: append([]string(nil), s.projection.Fields...), Exclude: s.projection.Exclude}
}

// Page is the 1-based page number.
func (s Spec) Page() int { return s.page }

// Limit is the page size.
func (s Spec) Limit() int { return s.limit }

// Skip is the number of records preceding the page.
func (s Spec) Skip() int { return (s.page - 1) * s.limit }

// Builder builds Specs. The zero value is not usable; use NewBuilder.
type Builder struct {
	reserved     map[string]struct{}
	defaultLimit int
}

// NewBuilder returns a builder with the standard reserved keys and default
// page size. Extra reserved keys are ignored when collecting filter terms.
func NewBuilder(extraReserved ...string) *Builder {
	reserved := map[string]struct{}{KeySort: {}, KeyFields: {}, KeyPage: {}, KeyLimit: {}}
	for _, key := range extraReserved {
		reserved[key] = struct{}{}
	}
	return &Builder{reserved: reserved, defaultLimit: DefaultLimit}
}

// Build parses raw parameters into a Spec.
func (b *Builder) Build(raw map[string]string) (Spec, error) {
	var spec Spec
	var err error

	if spec.filter, err = b.parseFilter(raw); err != nil {
		return Spec{}, err
	}
	if spec.sort, err = parseSort(raw[KeySort]); err != nil {
		return Spec{}, err
	}
	if spec.projection, err = parseProjection(raw[KeyFields]); err != nil {
		return Spec{}, err
	}
	if spec.page, err = parsePositive(KeyPage, raw[KeyPage], DefaultPage); err != nil {
		return Spec{}, err
	}
	if spec.limit, err = parsePositive(KeyLimit, raw[KeyLimit], b.defaultLimit); err != nil {
		return Spec{}, err
	}
	if spec.page-1 > math.MaxInt32/spec.limit {
		return Spec{}, invalid(KeyPage, "page window is out of range")
	}
	return spec, nil
}

// FromValues flattens URL values keeping the last occurrence of each key, so
// repeated parameters cannot smuggle extra terms.
func FromValues(values url.Values) map[string]string {
	raw := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		raw[key] = vals[len(vals)-1]
	}
	return raw
}

func (b *Builder) parseFilter(raw map[string]string) ([]Term, error) {
	terms := make([]Term, 0, len(raw))
	for key, value := range raw {
		if _, ok := b.reserved[key]; ok {
			continue
		}
		field, op, err := parseFilterKey(key)
		if err != nil {
			return nil, err
		}
		terms = append(terms, Term{Field: field, Op: op, Value: value})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Field != terms[j].Field {
			return terms[i].Field < terms[j].Field
		}
		return terms[i].Op < terms[j].Op
	})
	if len(terms) == 0 {
		return nil, nil
	}
	return terms, nil
}

func parseFilterKey(key string) (string, Op, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		if strings.ContainsRune(key, ']') || strings.TrimSpace(key) == "" {
			return "", "", invalid(key, "malformed filter key")
		}
		return key, OpEq, nil
	}
	if !strings.HasSuffix(key, "]") || open == 0 {
		return "", "", invalid(key, "malformed filter key")
	}
	field := key[:open]
	switch op := Op(key[open+1 : len(key)-1]); op {
	case OpGt, OpGte, OpLt, OpLte:
		return field, op, nil
	default:
		return "", "", invalid(key, fmt.Sprintf("unsupported operator %q", op))
	}
}

func parseSort(raw string) ([]SortKey, error) {
	var keys []SortKey
	for _, part := range splitList(raw) {
		desc := strings.HasPrefix(part, "-")
		field := strings.TrimPrefix(part, "-")
		if field == "" {
			return nil, invalid(KeySort, "empty sort field")
		}
		keys = append(keys, SortKey{Field: field, Desc: desc})
	}
	return keys, nil
}

func parseProjection(raw string) (Projection, error) {
	var p Projection
	for i, part := range splitList(raw) {
		exclude := strings.HasPrefix(part, "-")
		field := strings.TrimPrefix(part, "-")
		if field == "" {
			return Projection{}, invalid(KeyFields, "empty field name")
		}
		if i > 0 && exclude != p.Exclude {
			return Projection{}, invalid(KeyFields, "cannot mix included and excluded fields")
		}
		p.Exclude = exclude
		p.Fields = append(p.Fields, field)
	}
	return p, nil
}

func parsePositive(key, raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > math.MaxInt32 {
		return 0, invalid(key, "must be a positive integer")
	}
	return n, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func invalid(key, reason string) error {
	appErr := appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("invalid query parameter %s: %s", key, reason))
	appErr.Details = map[string]string{key: reason}
	return appErr
}
