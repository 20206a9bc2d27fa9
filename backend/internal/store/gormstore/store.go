// Package gormstore implements store.Store over GORM. PostgreSQL is the
// production target; SQLite backs local development and tests.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"sapling-graph/backend/internal/store"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

var _ store.Store = (*Store)(nil)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store is a GORM-backed record store
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) a SQLite database and migrates the schema
func OpenSQLite(path string) (*Store, error) {
	return open(sqlite.Open(path), "sqlite")
}

// OpenPostgres connects to PostgreSQL and migrates the schema
func OpenPostgres(dsn string) (*Store, error) {
	return open(postgres.Open(dsn), "postgres")
}

func open(dialector gorm.Dialector, name string) (*Store, error) {
	log := logger.Get().With(zap.String("store", name))

	gormLog := gormLogger.New(
		zap.NewStdLog(log),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}

	s := New(db)
	s.logger = log
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without migrating
func New(db *gorm.DB) *Store {
	return &Store{db: db, logger: logger.Get()}
}

// Migrate creates or updates every table
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	tx, err := s.scoped(ctx, table, q.Filters)
	if err != nil {
		return nil, err
	}
	for _, o := range q.Order {
		if !columnPattern.MatchString(o.Column) {
			return nil, apperrors.NewValidation("order", o.Column)
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: o.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var results []map[string]any
	if err := tx.Find(&results).Error; err != nil {
		return nil, apperrors.NewStoreFailed("select", table, err)
	}

	rows := make([]store.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, fromDB(r))
	}
	return rows, nil
}

func (s *Store) Insert(ctx context.Context, table string, rows ...store.Row) error {
	if len(rows) == 0 {
		return nil
	}
	model := modelFor(table)
	if model == nil {
		return apperrors.NewValidation("table", table)
	}
	values := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, toDB(row))
	}
	if err := s.db.WithContext(ctx).Model(model).Create(values).Error; err != nil {
		return apperrors.NewStoreFailed("insert", table, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table string, fields store.Row, filters ...store.Filter) (int, error) {
	if len(filters) == 0 {
		return 0, apperrors.NewValidation("filters", "update requires at least one filter")
	}
	if len(fields) == 0 {
		return 0, nil
	}
	tx, err := s.scoped(ctx, table, filters)
	if err != nil {
		return 0, err
	}
	res := tx.Updates(toDB(fields))
	if res.Error != nil {
		return 0, apperrors.NewStoreFailed("update", table, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) Upsert(ctx context.Context, table string, row store.Row, conflictKeys ...string) error {
	if len(conflictKeys) == 0 {
		return apperrors.NewValidation("conflictKeys", "upsert requires at least one conflict key")
	}
	model := modelFor(table)
	if model == nil {
		return apperrors.NewValidation("table", table)
	}

	keySet := make(map[string]bool, len(conflictKeys))
	columns := make([]clause.Column, 0, len(conflictKeys))
	for _, k := range conflictKeys {
		keySet[k] = true
		columns = append(columns, clause.Column{Name: k})
	}
	updates := make([]string, 0, len(row))
	for k := range row {
		if keySet[k] || k == "id" {
			continue
		}
		updates = append(updates, k)
	}

	onConflict := clause.OnConflict{Columns: columns}
	if len(updates) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(updates)
	}

	err := s.db.WithContext(ctx).
		Model(model).
		Clauses(onConflict).
		Create(toDB(row)).Error
	if err != nil {
		return apperrors.NewStoreFailed("upsert", table, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, filters ...store.Filter) (int, error) {
	if len(filters) == 0 {
		return 0, apperrors.NewValidation("filters", "delete requires at least one filter")
	}
	tx, err := s.scoped(ctx, table, filters)
	if err != nil {
		return 0, err
	}
	res := tx.Delete(modelFor(table))
	if res.Error != nil {
		return 0, apperrors.NewStoreFailed("delete", table, res.Error)
	}
	return int(res.RowsAffected), nil
}

// scoped starts a statement on table's model with filters applied
func (s *Store) scoped(ctx context.Context, table string, filters []store.Filter) (*gorm.DB, error) {
	model := modelFor(table)
	if model == nil {
		return nil, apperrors.NewValidation("table", table)
	}
	tx := s.db.WithContext(ctx).Model(model)
	for _, f := range filters {
		expr, ok, err := filterExpr(f)
		if err != nil {
			return nil, err
		}
		if ok {
			tx = tx.Where(expr)
		}
	}
	return tx, nil
}

// filterExpr translates a filter. An empty NOT IN list matches everything
// and is dropped.
func filterExpr(f store.Filter) (clause.Expression, bool, error) {
	if !columnPattern.MatchString(f.Column) {
		return nil, false, apperrors.NewValidation("column", f.Column)
	}
	col := clause.Column{Name: f.Column}
	switch f.Op {
	case store.OpEq:
		return clause.Eq{Column: col, Value: f.Value}, true, nil
	case store.OpNeq:
		return clause.Neq{Column: col, Value: f.Value}, true, nil
	case store.OpIn:
		return clause.IN{Column: col, Values: f.Values()}, true, nil
	case store.OpNotIn:
		values := f.Values()
		if len(values) == 0 {
			return nil, false, nil
		}
		return clause.Not(clause.IN{Column: col, Values: values}), true, nil
	}
	return nil, false, apperrors.NewValidation("op", string(f.Op))
}

// toDB encodes nested values as JSON columns
func toDB(row store.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch v.(type) {
		case map[string]any, []any, []string, store.Row:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[k] = datatypes.JSON(b)
		default:
			out[k] = v
		}
	}
	return out
}

func fromDB(r map[string]any) store.Row {
	row := make(store.Row, len(r))
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
			continue
		}
		row[k] = v
	}
	return row
}
