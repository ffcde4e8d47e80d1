package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

// memStore is an in-memory ResourceStore keeping insertion order.
type memStore[T any] struct {
	mu      sync.Mutex
	id      func(*T) *string
	records map[string]T
	order   []string

	defaultFields []string
	findErr       error
	insertErr     error
	updateErr     error

	lastSpec  query.Spec
	lastScope []query.Term

	// numeric, when set, makes Find execute the Spec's filter, sort and
	// page window over the numeric fields it resolves.
	numeric func(record *T, field string) (float64, bool)
}

func newMemStore[T any](id func(*T) *string, defaultFields ...string) *memStore[T] {
	return &memStore[T]{id: id, records: make(map[string]T), defaultFields: defaultFields}
}

func (m *memStore[T]) put(record T) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := *m.id(&record)
	if id == "" {
		id = uuid.NewString()
		*m.id(&record) = id
	}
	if _, ok := m.records[id]; !ok {
		m.order = append(m.order, id)
	}
	m.records[id] = record
	return id
}

func (m *memStore[T]) all() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]T, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}

func (m *memStore[T]) Find(_ context.Context, spec query.Spec, scope ...query.Term) ([]T, int, error) {
	if m.findErr != nil {
		return nil, 0, m.findErr
	}
	m.lastSpec, m.lastScope = spec, scope
	items := m.all()
	if m.numeric == nil {
		return items, len(items), nil
	}
	return m.execute(spec, items)
}

func (m *memStore[T]) execute(spec query.Spec, items []T) ([]T, int, error) {
	matched := items[:0]
	for i := range items {
		ok, err := m.matches(&items[i], spec.Filter())
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, items[i])
		}
	}

	keys := spec.Sort()
	for _, key := range keys {
		if len(matched) > 0 {
			if _, ok := m.numeric(&matched[0], key.Field); !ok {
				return nil, 0, fmt.Errorf("unknown sort field %q", key.Field)
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, key := range keys {
			a, _ := m.numeric(&matched[i], key.Field)
			b, _ := m.numeric(&matched[j], key.Field)
			if a == b {
				continue
			}
			if key.Desc {
				return a > b
			}
			return a < b
		}
		return false
	})

	total := len(matched)
	start := spec.Skip()
	if start > total {
		start = total
	}
	end := start + spec.Limit()
	if end > total {
		end = total
	}
	return append([]T(nil), matched[start:end]...), total, nil
}

func (m *memStore[T]) matches(record *T, terms []query.Term) (bool, error) {
	for _, term := range terms {
		got, ok := m.numeric(record, term.Field)
		if !ok {
			return false, fmt.Errorf("unknown filter field %q", term.Field)
		}
		want, err := strconv.ParseFloat(term.Value, 64)
		if err != nil {
			return false, err
		}
		var hit bool
		switch term.Op {
		case query.OpEq:
			hit = got == want
		case query.OpGt:
			hit = got > want
		case query.OpGte:
			hit = got >= want
		case query.OpLt:
			hit = got < want
		case query.OpLte:
			hit = got <= want
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

func (m *memStore[T]) Fields(p query.Projection) ([]string, error) {
	if p.IsDefault() {
		return m.defaultFields, nil
	}
	return append([]string{"id"}, p.Fields...), nil
}

func (m *memStore[T]) FindByID(_ context.Context, id string) (*T, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

func (m *memStore[T]) Insert(_ context.Context, record *T) (string, error) {
	if m.insertErr != nil {
		return "", m.insertErr
	}
	*m.id(record) = uuid.NewString()
	return m.put(*record), nil
}

func (m *memStore[T]) Update(_ context.Context, record *T) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	_, ok := m.records[*m.id(record)]
	m.mu.Unlock()
	if !ok {
		return sql.ErrNoRows
	}
	m.put(*record)
	return nil
}

func (m *memStore[T]) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.records, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// mockImageStore records saved images.
type mockImageStore struct {
	saved []string
	err   error
}

func (m *mockImageStore) SaveImage(dir, name string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	path := dir + "/" + name + ".jpeg"
	m.saved = append(m.saved, path)
	return path, nil
}

// mockCacheRepo is an in-memory CacheRepository storing encoded values.
type mockCacheRepo struct {
	mu          sync.Mutex
	values      map[string][]byte
	invalidated []string
	getErr      error
	gets        int
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{values: make(map[string][]byte)}
}

func (m *mockCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	return nil
}

func (m *mockCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			delete(m.values, key)
		}
	}
	return nil
}
