package authz

import (
	"context"

	"gorm.io/gorm"

	"github.com/sukryu/gorm-oso/pkg/client"
)

// Query is an immutable imperative query builder. Every method returns a
// new Query; the receiver keeps working as before.
type Query struct {
	authz  *Authorizer
	db     *gorm.DB
	models []any
}

// Query starts a query over models. The first model drives the statement.
func (a *Authorizer) Query(db *gorm.DB, models ...any) *Query {
	tx := db.Session(&gorm.Session{})
	if len(models) > 0 {
		tx = tx.Model(models[0])
	}
	return &Query{authz: a, db: tx, models: models}
}

func (q *Query) with(db *gorm.DB) *Query {
	return &Query{authz: q.authz, db: db, models: q.models}
}

func (q *Query) tx() *gorm.DB { return q.db.Session(&gorm.Session{}) }

func (q *Query) EntityTypes() []any { return q.models }

func (q *Query) WithCriterion(c *Criterion) *Query { return q.with(withCriterion(q.db, c)) }

func (q *Query) Authorize(ctx context.Context, actor client.Value, action string) (*Query, error) {
	return Authorize[*Query](ctx, q.authz, q, actor, action)
}

// DB returns the underlying gorm chain.
func (q *Query) DB() *gorm.DB { return q.tx() }

func (q *Query) Where(query any, args ...any) *Query { return q.with(q.tx().Where(query, args...)) }

func (q *Query) Or(query any, args ...any) *Query { return q.with(q.tx().Or(query, args...)) }

func (q *Query) Not(query any, args ...any) *Query { return q.with(q.tx().Not(query, args...)) }

func (q *Query) Joins(query string, args ...any) *Query { return q.with(q.tx().Joins(query, args...)) }

func (q *Query) InnerJoins(query string, args ...any) *Query {
	return q.with(q.tx().InnerJoins(query, args...))
}

func (q *Query) Preload(query string, args ...any) *Query {
	return q.with(q.tx().Preload(query, args...))
}

func (q *Query) Select(query any, args ...any) *Query { return q.with(q.tx().Select(query, args...)) }

func (q *Query) Order(value any) *Query { return q.with(q.tx().Order(value)) }

func (q *Query) Group(name string) *Query { return q.with(q.tx().Group(name)) }

func (q *Query) Limit(n int) *Query { return q.with(q.tx().Limit(n)) }

func (q *Query) Offset(n int) *Query { return q.with(q.tx().Offset(n)) }

func (q *Query) Find(ctx context.Context, dest any) error {
	return q.tx().WithContext(ctx).Find(dest).Error
}

func (q *Query) First(ctx context.Context, dest any) error {
	return q.tx().WithContext(ctx).First(dest).Error
}

func (q *Query) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.tx().WithContext(ctx).Count(&n).Error
	return n, err
}

func (q *Query) Pluck(ctx context.Context, column string, dest any) error {
	return q.tx().WithContext(ctx).Pluck(column, dest).Error
}
