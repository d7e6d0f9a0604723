package authz

import (
	"context"

	"gorm.io/gorm"

	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

// Select is a declarative statement: a value describing what to load,
// detached from any connection until Build. The zero value selects nothing.
type Select struct {
	models   []any
	steps    []func(*gorm.DB) *gorm.DB
	criteria []*Criterion
}

func NewSelect(models ...any) Select {
	return Select{models: append([]any(nil), models...)}
}

func (s Select) step(fn func(*gorm.DB) *gorm.DB) Select {
	steps := make([]func(*gorm.DB) *gorm.DB, len(s.steps), len(s.steps)+1)
	copy(steps, s.steps)
	s.steps = append(steps, fn)
	return s
}

func (s Select) EntityTypes() []any { return s.models }

func (s Select) WithCriterion(c *Criterion) Select {
	crits := make([]*Criterion, len(s.criteria), len(s.criteria)+1)
	copy(crits, s.criteria)
	s.criteria = append(crits, c)
	return s
}

func (s Select) Authorize(ctx context.Context, a *Authorizer, actor client.Value, action string) (Select, error) {
	return Authorize[Select](ctx, a, s, actor, action)
}

// Criteria returns the criteria attached so far.
func (s Select) Criteria() []*Criterion {
	return append([]*Criterion(nil), s.criteria...)
}

func (s Select) Where(query any, args ...any) Select {
	return s.step(func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) })
}

func (s Select) Joins(query string, args ...any) Select {
	return s.step(func(db *gorm.DB) *gorm.DB { return db.Joins(query, args...) })
}

func (s Select) Preload(query string, args ...any) Select {
	return s.step(func(db *gorm.DB) *gorm.DB { return db.Preload(query, args...) })
}

func (s Select) Order(value any) Select {
	return s.step(func(db *gorm.DB) *gorm.DB { return db.Order(value) })
}

func (s Select) Limit(n int) Select {
	return s.step(func(db *gorm.DB) *gorm.DB { return db.Limit(n) })
}

// Build binds the statement to db.
func (s Select) Build(db *gorm.DB) (*gorm.DB, error) {
	if len(s.models) == 0 {
		return nil, errors.ErrNoEntity
	}
	tx := db.Session(&gorm.Session{}).Model(s.models[0])
	for _, fn := range s.steps {
		tx = fn(tx)
	}
	for _, c := range s.criteria {
		tx = tx.Set(criteriaKey, appendCriterion(tx, c))
	}
	return tx, nil
}

func (s Select) Find(ctx context.Context, db *gorm.DB, dest any) error {
	tx, err := s.Build(db)
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Find(dest).Error
}
