// Package authz filters gorm queries down to the rows an actor may access.
//
// An Authorizer asks the authorization service for a row filter on the
// single resource type a query selects and attaches it to a copy of the
// query as a scoped criterion. The criterion also applies where the same
// resource is joined by relationship name or preloaded.
package authz

import (
	"context"
	"log/slog"
	"reflect"

	"gorm.io/gorm"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

type Authorizer struct {
	bindings *binding.Bindings
	filterer client.RowFilterer
	logger   *slog.Logger
}

type Option func(*Authorizer)

func WithLogger(l *slog.Logger) Option {
	return func(a *Authorizer) { a.logger = l }
}

// New returns an Authorizer and installs the criteria plugin on db.
func New(db *gorm.DB, bindings *binding.Bindings, filterer client.RowFilterer, opts ...Option) (*Authorizer, error) {
	a := &Authorizer{
		bindings: bindings,
		filterer: filterer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "authz")

	if err := db.Use(plugin{}); err != nil && !errors.Is(err, gorm.ErrRegistered) {
		return nil, errors.ErrInternal.WithReasonf("register gorm plugin: %v", err)
	}
	return a, nil
}

func (a *Authorizer) Bindings() *binding.Bindings { return a.bindings }

// Authorize returns a copy of q restricted to rows of its model on which
// actor may perform action. q itself is left untouched.
func (a *Authorizer) Authorize(ctx context.Context, q *gorm.DB, actor client.Value, action string) (*gorm.DB, error) {
	return Authorize[*gorm.DB](ctx, a, gormQuery{db: q}, actor, action)
}

// Authorized returns gorm scopes that restrict every load of the model's
// rows, for queries built without the wrappers in this package:
//
//	scopes, err := a.Authorized(ctx, actor, "read", &Document{})
//	db.Scopes(scopes...).Preload("Documents").Find(&orgs)
func (a *Authorizer) Authorized(ctx context.Context, actor client.Value, action string, models ...any) ([]func(*gorm.DB) *gorm.DB, error) {
	c, err := a.criterion(ctx, models, actor, action)
	if err != nil {
		return nil, err
	}
	return []func(*gorm.DB) *gorm.DB{c.scope}, nil
}

// criterion validates the entity set before asking the service for a row
// filter, so usage errors never cost a network call.
func (a *Authorizer) criterion(ctx context.Context, models []any, actor client.Value, action string) (*Criterion, error) {
	types := sets.New[reflect.Type]()
	for _, m := range models {
		if t := binding.ModelType(m); t != nil {
			types.Insert(t)
		}
	}
	switch types.Len() {
	case 0:
		return nil, errors.ErrNoEntity
	case 1:
	default:
		names := make([]string, 0, types.Len())
		for t := range types {
			names = append(names, t.Name())
		}
		return nil, errors.ErrMultipleEntities.WithReasonf("%v", sets.List(sets.New(names...)))
	}

	t := types.UnsortedList()[0]
	r, ok := a.bindings.Resource(t)
	if !ok {
		return nil, errors.ErrNotResource.WithReason(t.String())
	}

	sql, err := a.filterer.ListLocal(ctx, actor, action, r.Name, r.Column())
	if err != nil {
		return nil, err
	}
	a.logger.DebugContext(ctx, "row filter",
		"actor", actor.String(), "action", action, "resource", r.Name, "sql", sql)

	return &Criterion{Resource: r, Actor: actor, Action: action, SQL: sql}, nil
}

// Authorizable is a query representation the authorization step can be
// attached to.
type Authorizable[T any] interface {
	EntityTypes() []any
	WithCriterion(c *Criterion) T
}

func Authorize[T any](ctx context.Context, a *Authorizer, q Authorizable[T], actor client.Value, action string) (T, error) {
	c, err := a.criterion(ctx, q.EntityTypes(), actor, action)
	if err != nil {
		var zero T
		return zero, err
	}
	return q.WithCriterion(c), nil
}

// gormQuery adapts a plain gorm chain.
type gormQuery struct {
	db *gorm.DB
}

func (q gormQuery) EntityTypes() []any {
	switch {
	case q.db.Statement.Model != nil:
		return []any{q.db.Statement.Model}
	case q.db.Statement.Dest != nil:
		return []any{q.db.Statement.Dest}
	}
	return nil
}

func (q gormQuery) WithCriterion(c *Criterion) *gorm.DB {
	return withCriterion(q.db, c)
}
