package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps tables in process memory. The mutex keeps its own maps
// consistent; it gives callers no read-modify-write atomicity.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][]Row),
		logger: logger.Get(),
	}
}

func (m *MemoryStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStoreFailed("select", table, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Row, 0)
	for _, row := range m.tables[table] {
		if matchesAll(row, q.Filters) {
			result = append(result, row.Clone())
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(result, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareValues(result[i][o.Column], result[j][o.Column])
				if c == 0 {
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
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (m *MemoryStore) Insert(ctx context.Context, table string, rows ...Row) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreFailed("insert", table, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		m.tables[table] = append(m.tables[table], row.Clone())
	}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, table string, fields Row, filters ...Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.NewStoreFailed("update", table, err)
	}
	if len(filters) == 0 {
		return 0, apperrors.NewValidation("filters", "update requires at least one filter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, row := range m.tables[table] {
		if !matchesAll(row, filters) {
			continue
		}
		for k, v := range fields {
			row[k] = cloneValue(v)
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, table string, row Row, conflictKeys ...string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreFailed("upsert", table, err)
	}
	if len(conflictKeys) == 0 {
		return apperrors.NewValidation("conflictKeys", "upsert requires at least one conflict key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	filters := make([]Filter, 0, len(conflictKeys))
	for _, key := range conflictKeys {
		filters = append(filters, Eq(key, row[key]))
	}
	for _, existing := range m.tables[table] {
		if matchesAll(existing, filters) {
			for k, v := range row {
				// id is assigned once
				if k == "id" && existing[k] != nil {
					continue
				}
				existing[k] = cloneValue(v)
			}
			return nil
		}
	}
	m.tables[table] = append(m.tables[table], row.Clone())
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, table string, filters ...Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.NewStoreFailed("delete", table, err)
	}
	if len(filters) == 0 {
		return 0, apperrors.NewValidation("filters", "delete requires at least one filter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tables[table][:0]
	removed := 0
	for _, row := range m.tables[table] {
		if matchesAll(row, filters) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	m.tables[table] = kept
	if removed > 0 {
		m.logger.Debug("memory store delete",
			zap.String("table", table),
			zap.Int("removed", removed),
		)
	}
	return removed, nil
}

// Len reports the number of rows in a table
func (m *MemoryStore) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

// ============================================================================
// Filter evaluation
// ============================================================================

func matchesAll(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matches(row, f) {
			return false
		}
	}
	return true
}

func matches(row Row, f Filter) bool {
	val := row[f.Column]
	switch f.Op {
	case OpEq:
		return valuesEqual(val, f.Value)
	case OpNeq:
		return !valuesEqual(val, f.Value)
	case OpIn:
		for _, candidate := range f.Values() {
			if valuesEqual(val, candidate) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, candidate := range f.Values() {
			if valuesEqual(val, candidate) {
				return false
			}
		}
		return true
	}
	return false
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if _, isStr := a.(string); !isStr {
			if fb, ok := toFloat(b); ok {
				if _, isStr := b.(string); !isStr {
					return fa == fb
				}
			}
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return sa == sb
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
	}
	return false
}

// compareValues orders nil first, then numbers, times and strings by value
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr && !bStr {
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		if okA && okB {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, _ := a.(string)
	sb, _ := b.(string)
	return strings.Compare(sa, sb)
}
