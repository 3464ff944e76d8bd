// Package ormhook connects gorm to the change tracking coordinator.
//
// Entity types are gorm model names (schema.Name). Registry property names are
// mapped to columns with the database's naming strategy, so "customerId"
// resolves to the column customer_id. A non-inverse association property is
// the foreign key column on the owning table; its value is the ID of the
// target entity.
//
// Statements gorm wraps in its own transaction are delivered right after
// commit. Changes made inside an explicit transaction are buffered per
// transaction and delivered only through Tracker.Transaction, or by Flush
// after a db.Begin transaction commits (Discard after a rollback). A plain
// db.Transaction or a Begin transaction that is never flushed leaves its
// changes in the buffer undelivered; Pending reports how many such
// transactions are held and a warning is logged as they accumulate.
package ormhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/types"
)

// Committer receives the changes of one committed transaction.
type Committer interface {
	OnCommit(ctx context.Context, changes []types.EntityChange) error
}

const (
	changesKey = "ripple:changes"
	oldRowsKey = "ripple:old_rows"

	// set by gorm's begin_transaction callback when it opened the transaction itself
	startedTxKey = "gorm:started_transaction"

	// warn each time this many more transactions are buffered without a flush
	defaultWarnPending = 64
)

// Tracker records entity changes from gorm statements and hands them to a
// Committer once the surrounding transaction has committed.
type Tracker struct {
	registry  *registry.Registry
	committer Committer

	// changes of explicit transactions, keyed by the transaction's connection
	pending     *xsync.MapOf[gorm.ConnPool, []types.EntityChange]
	warnPending int
}

// NewTracker creates a Tracker. Call Register to attach it to a gorm.DB.
func NewTracker(reg *registry.Registry, committer Committer) *Tracker {
	return &Tracker{
		registry:    reg,
		committer:   committer,
		pending:     xsync.NewMapOf[gorm.ConnPool, []types.EntityChange](),
		warnPending: defaultWarnPending,
	}
}

// Register installs the tracking callbacks on db.
func (t *Tracker) Register(db *gorm.DB) error {
	cb := db.Callback()
	steps := []struct {
		name string
		fn   func() error
	}{
		{"create capture", func() error {
			return cb.Create().After("gorm:create").Register("ripple:capture_create", t.captureCreate)
		}},
		{"create commit", func() error {
			return cb.Create().After("gorm:commit_or_rollback_transaction").Register("ripple:after_commit", t.afterCommit)
		}},
		{"update snapshot", func() error {
			return cb.Update().Before("gorm:update").After("gorm:begin_transaction").Register("ripple:snapshot_update", t.snapshotUpdate)
		}},
		{"update capture", func() error {
			return cb.Update().After("gorm:update").Register("ripple:capture_update", t.captureUpdate)
		}},
		{"update commit", func() error {
			return cb.Update().After("gorm:commit_or_rollback_transaction").Register("ripple:after_commit", t.afterCommit)
		}},
		{"delete capture", func() error {
			return cb.Delete().Before("gorm:delete").After("gorm:begin_transaction").Register("ripple:capture_delete", t.captureDelete)
		}},
		{"delete commit", func() error {
			return cb.Delete().After("gorm:commit_or_rollback_transaction").Register("ripple:after_commit", t.afterCommit)
		}},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("register %s callback: %w", s.name, err)
		}
	}
	return nil
}

// Transaction runs fn in a database transaction and, once it commits, passes
// the changes recorded inside it to the Committer. A rolled back transaction
// discards them.
func (t *Tracker) Transaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var conn gorm.ConnPool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conn = tx.Statement.ConnPool
		return fn(tx)
	})
	if err != nil {
		if conn != nil {
			t.pending.Delete(conn)
		}
		return err
	}
	return t.flush(ctx, conn)
}

// Flush passes the changes recorded in tx to the Committer. Use it after
// committing a transaction opened with db.Begin.
func (t *Tracker) Flush(ctx context.Context, tx *gorm.DB) error {
	return t.flush(ctx, tx.Statement.ConnPool)
}

// Discard drops the changes recorded in tx. Use it after a rollback.
func (t *Tracker) Discard(tx *gorm.DB) {
	t.pending.Delete(tx.Statement.ConnPool)
}

// Pending returns the number of transactions with unflushed changes.
func (t *Tracker) Pending() int {
	return t.pending.Size()
}

func (t *Tracker) flush(ctx context.Context, conn gorm.ConnPool) error {
	changes, ok := t.pending.LoadAndDelete(conn)
	if !ok || len(changes) == 0 {
		return nil
	}
	if err := t.committer.OnCommit(ctx, changes); err != nil {
		return fmt.Errorf("track changes: %w", err)
	}
	return nil
}

// afterCommit runs last in every write chain. Statements in a transaction gorm
// opened itself are committed by now; statements inside an explicit
// transaction are buffered until Flush.
func (t *Tracker) afterCommit(db *gorm.DB) {
	changes, _ := instanceChanges(db)
	if db.Error != nil || len(changes) == 0 {
		return
	}

	_, started := db.InstanceGet(startedTxKey)
	if _, inTx := db.Statement.ConnPool.(gorm.TxCommitter); inTx && !started {
		conn := db.Statement.ConnPool
		var opened bool
		t.pending.Compute(conn, func(old []types.EntityChange, loaded bool) ([]types.EntityChange, bool) {
			opened = !loaded
			return append(old, changes...), false
		})
		if n := t.pending.Size(); opened && n%t.warnPending == 0 {
			slog.Warn("transactions buffered without flush",
				"component", "ormhook",
				"pending", n,
			)
		}
		return
	}

	if err := t.committer.OnCommit(db.Statement.Context, changes); err != nil {
		slog.Error("change tracking failed after commit",
			"component", "ormhook",
			"table", db.Statement.Table,
			"error", err,
		)
		db.AddError(fmt.Errorf("track changes: %w", err))
	}
}

func (t *Tracker) captureCreate(db *gorm.DB) {
	t.eachRow(db, func(desc *registry.IndexDescriptor, ref types.EntityRef, id any) error {
		row, err := loadRow(db, id)
		if err != nil || row == nil {
			return err
		}
		change := types.EntityChange{Subject: ref, Kind: types.ChangeCreated}
		for _, prop := range t.columns(db, desc) {
			v := propertyValue(desc, prop.name, row[prop.column])
			if v != nil {
				change.Properties = append(change.Properties, types.PropertyChange{Property: prop.name, New: v})
			}
		}
		appendChange(db, change)
		return nil
	})
}

func (t *Tracker) snapshotUpdate(db *gorm.DB) {
	old := make(map[types.EntityRef]map[string]any)
	t.eachRow(db, func(desc *registry.IndexDescriptor, ref types.EntityRef, id any) error {
		row, err := loadRow(db, id)
		if err != nil {
			return err
		}
		old[ref] = row
		return nil
	})
	db.InstanceSet(oldRowsKey, old)
}

func (t *Tracker) captureUpdate(db *gorm.DB) {
	v, _ := db.InstanceGet(oldRowsKey)
	old, _ := v.(map[types.EntityRef]map[string]any)

	t.eachRow(db, func(desc *registry.IndexDescriptor, ref types.EntityRef, id any) error {
		before, ok := old[ref]
		if !ok {
			return nil
		}
		after, err := loadRow(db, id)
		if err != nil || after == nil {
			return err
		}
		change := types.EntityChange{Subject: ref, Kind: types.ChangeUpdated}
		for _, prop := range t.columns(db, desc) {
			o := propertyValue(desc, prop.name, before[prop.column])
			n := propertyValue(desc, prop.name, after[prop.column])
			if !reflect.DeepEqual(o, n) {
				change.Properties = append(change.Properties, types.PropertyChange{Property: prop.name, Old: o, New: n})
			}
		}
		if len(change.Properties) > 0 {
			appendChange(db, change)
		}
		return nil
	})
}

// captureDelete records the row as it was, so associations that disappear
// with it still lead to their holders.
func (t *Tracker) captureDelete(db *gorm.DB) {
	t.eachRow(db, func(desc *registry.IndexDescriptor, ref types.EntityRef, id any) error {
		row, err := loadRow(db, id)
		if err != nil {
			return err
		}
		change := types.EntityChange{Subject: ref, Kind: types.ChangeDeleted}
		for _, prop := range t.columns(db, desc) {
			if v := propertyValue(desc, prop.name, row[prop.column]); v != nil {
				change.Properties = append(change.Properties, types.PropertyChange{Property: prop.name, Old: v})
			}
		}
		appendChange(db, change)
		return nil
	})
}

// eachRow calls fn for every model instance of the statement whose type is in
// the registry and whose primary key is set.
func (t *Tracker) eachRow(db *gorm.DB, fn func(desc *registry.IndexDescriptor, ref types.EntityRef, id any) error) {
	stmt := db.Statement
	if db.Error != nil || stmt.Schema == nil {
		return
	}
	desc, ok := t.registry.Describe(stmt.Schema.Name)
	if !ok {
		return
	}
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		slog.Debug("model without primary key not tracked",
			"component", "ormhook",
			"model", stmt.Schema.Name,
		)
		return
	}

	visit := func(rv reflect.Value) {
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return
			}
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			return
		}
		id, zero := pk.ValueOf(stmt.Context, rv)
		if zero {
			slog.Debug("statement without primary key not tracked",
				"component", "ormhook",
				"model", stmt.Schema.Name,
			)
			return
		}
		ref := types.Ref(stmt.Schema.Name, fmt.Sprint(id))
		if err := fn(desc, ref, id); err != nil {
			db.AddError(fmt.Errorf("capture %s: %w", ref, err))
		}
	}

	switch rv := reflect.Indirect(stmt.ReflectValue); rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			visit(rv.Index(i))
		}
	default:
		visit(rv)
	}
}

type column struct {
	name   string
	column string
}

// columns lists the registry properties of desc that are backed by a column
// of the statement's table.
func (t *Tracker) columns(db *gorm.DB, desc *registry.IndexDescriptor) []column {
	s := db.Statement.Schema
	names := make([]string, 0, len(desc.IndexedProperties)+len(desc.Associations))
	names = append(names, desc.IndexedProperties...)
	for _, a := range desc.Associations {
		names = append(names, a.Property)
	}

	var out []column
	for _, name := range names {
		if f := lookUpColumn(db.NamingStrategy, s, name); f != nil {
			out = append(out, column{name: name, column: f.DBName})
		}
	}
	return out
}

func lookUpColumn(namer schema.Namer, s *schema.Schema, property string) *schema.Field {
	if f, ok := s.FieldsByDBName[namer.ColumnName(s.Table, property)]; ok {
		return f
	}
	if f := s.LookUpField(property); f != nil && f.DBName != "" {
		return f
	}
	return nil
}

// loadRow reads the current row for id inside the statement's transaction.
func loadRow(db *gorm.DB, id any) (map[string]any, error) {
	stmt := db.Statement
	row := map[string]any{}
	err := db.Session(&gorm.Session{NewDB: true, SkipHooks: true}).
		Table(stmt.Table).
		Where(clause.Eq{Column: clause.Column{Name: stmt.Schema.PrioritizedPrimaryField.DBName}, Value: id}).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load row: %w", err)
	}
	return row, nil
}

// propertyValue converts a column value to a change value. Association
// columns become entity references; zero foreign keys mean no association.
func propertyValue(desc *registry.IndexDescriptor, property string, raw any) any {
	v := normalize(raw)
	a, ok := desc.Association(property)
	if !ok {
		return v
	}
	if v == nil {
		return nil
	}
	id := fmt.Sprint(v)
	if id == "" || id == "0" {
		return nil
	}
	return types.Ref(a.TargetType, id)
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	default:
		return v
	}
}

func instanceChanges(db *gorm.DB) ([]types.EntityChange, bool) {
	v, ok := db.InstanceGet(changesKey)
	if !ok {
		return nil, false
	}
	changes, ok := v.([]types.EntityChange)
	return changes, ok
}

func appendChange(db *gorm.DB, change types.EntityChange) {
	changes, _ := instanceChanges(db)
	db.InstanceSet(changesKey, append(changes, change))
}
