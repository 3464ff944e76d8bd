package ormhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/types"
)

// ErrUnmappedPath indicates an association path the gorm lookup cannot translate to SQL.
var ErrUnmappedPath = errors.New("association path has no column mapping")

// Table is the storage of one entity type.
type Table struct {
	Name       string
	PrimaryKey string
}

// Lookup answers reverse association queries with SQL through gorm.
// It reads committed state and needs no Go models: tables and columns
// follow the database's naming strategy unless bound explicitly.
type Lookup struct {
	db       *gorm.DB
	registry *registry.Registry

	mu     sync.RWMutex
	tables map[string]Table
}

// NewLookup creates a Lookup over db.
func NewLookup(db *gorm.DB, reg *registry.Registry) *Lookup {
	return &Lookup{
		db:       db,
		registry: reg,
		tables:   make(map[string]Table),
	}
}

// Bind overrides the table of entityType.
func (l *Lookup) Bind(entityType string, table Table) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables[entityType] = table
}

func (l *Lookup) table(entityType string) Table {
	l.mu.RLock()
	t, ok := l.tables[entityType]
	l.mu.RUnlock()
	if !ok {
		t = Table{Name: l.db.NamingStrategy.TableName(entityType)}
	}
	if t.PrimaryKey == "" {
		t.PrimaryKey = "id"
	}
	return t
}

func (l *Lookup) column(table, property string) string {
	return l.db.NamingStrategy.ColumnName(table, property)
}

// FindHolders returns the entities that hold target through path, a holder
// path declared on target's type.
//
// A non-inverse path reads the foreign key column on target's own row.
// An inverse path selects the holders whose owning column points at target.
func (l *Lookup) FindHolders(ctx context.Context, target types.EntityRef, path registry.AssociationPath) ([]types.EntityRef, error) {
	var (
		ids []sql.NullString
		err error
	)
	if path.Inverse {
		owning, oerr := l.owningProperty(target.Type, path)
		if oerr != nil {
			return nil, oerr
		}
		holder := l.table(path.TargetType)
		err = l.db.WithContext(ctx).
			Table(holder.Name).
			Where(clause.Eq{Column: clause.Column{Name: l.column(holder.Name, owning)}, Value: target.ID}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: holder.PrimaryKey}}).
			Pluck(holder.PrimaryKey, &ids).Error
	} else {
		if path.ToMany() {
			return nil, fmt.Errorf("%w: %s.%s is to-many without inverse", ErrUnmappedPath, target.Type, path.Property)
		}
		own := l.table(target.Type)
		err = l.db.WithContext(ctx).
			Table(own.Name).
			Where(clause.Eq{Column: clause.Column{Name: own.PrimaryKey}, Value: target.ID}).
			Pluck(l.column(own.Name, path.Property), &ids).Error
	}
	if err != nil {
		return nil, fmt.Errorf("find holders of %s via %s: %w", target, path.Property, err)
	}

	holders := make([]types.EntityRef, 0, len(ids))
	for _, id := range ids {
		if !id.Valid || id.String == "" || id.String == "0" {
			continue
		}
		holders = append(holders, types.Ref(path.TargetType, id.String))
	}
	return holders, nil
}

// owningProperty finds the association on the holder type that owns an
// inverse path: MappedBy when set, otherwise the only non-inverse association
// of the holder type back to targetType.
func (l *Lookup) owningProperty(targetType string, path registry.AssociationPath) (string, error) {
	if path.MappedBy != "" {
		return path.MappedBy, nil
	}
	desc, ok := l.registry.Describe(path.TargetType)
	if !ok {
		return "", fmt.Errorf("%w: holder type %s unknown", ErrUnmappedPath, path.TargetType)
	}
	var found []string
	for _, a := range desc.Associations {
		if a.TargetType == targetType && !a.Inverse && !a.ToMany() {
			found = append(found, a.Property)
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("%w: %s.%s needs mapped_by (%d candidates on %s)",
			ErrUnmappedPath, targetType, path.Property, len(found), path.TargetType)
	}
	return found[0], nil
}
