package binding

import (
	"gorm.io/gorm/clause"
)

// Kind identifies how a field takes part in authorization.
type Kind int

const (
	KindAttribute Kind = iota + 1
	KindRelation
	KindRemoteRelation
)

func (k Kind) String() string {
	switch k {
	case KindAttribute:
		return "attribute"
	case KindRelation:
		return "relation"
	case KindRemoteRelation:
		return "remote_relation"
	default:
		return "unknown"
	}
}

// Field binds one column or relationship of a model to a fact shape.
type Field struct {
	Kind Kind
	// Ref is a Go field name, a column name or, for relations, a gorm
	// relationship name.
	Ref string
	// Name overrides the relation name in the fact key.
	Name string
	// RemoteType is the type name for remote relations.
	RemoteType string
	// On replaces the join predicate derived from the relationship.
	On clause.Expression
}

func Attribute(ref string) Field {
	return Field{Kind: KindAttribute, Ref: ref}
}

func Relation(ref string) Field {
	return Field{Kind: KindRelation, Ref: ref}
}

// RemoteRelation binds a column holding the id of a resource that lives
// outside the local schema.
func RemoteRelation(ref, remoteType string) Field {
	return Field{Kind: KindRemoteRelation, Ref: ref, RemoteType: remoteType}
}

func (f Field) Named(name string) Field {
	f.Name = name
	return f
}

// JoinOn sets an explicit join predicate for a relation. Columns should be
// qualified with the table names (or the relation name for self joins).
func (f Field) JoinOn(expr clause.Expression) Field {
	f.On = expr
	return f
}

// Role is the structural role of a role-mapping column.
type Role int

const (
	RoleActor Role = iota + 1
	RoleName
	RoleResource
)

func (r Role) String() string {
	switch r {
	case RoleActor:
		return "actor"
	case RoleName:
		return "role"
	case RoleResource:
		return "resource"
	default:
		return "unknown"
	}
}

type Column struct {
	Role Role
	Ref  string
	Type string
}

type ColumnOption func(*Column)

// OfType tags a role-mapping column with an explicit fact type.
func OfType(typeName string) ColumnOption {
	return func(c *Column) { c.Type = typeName }
}

func newColumn(role Role, ref string, opts []ColumnOption) Column {
	c := Column{Role: role, Ref: ref}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func ActorColumn(ref string, opts ...ColumnOption) Column {
	return newColumn(RoleActor, ref, opts)
}

func RoleColumn(ref string, opts ...ColumnOption) Column {
	return newColumn(RoleName, ref, opts)
}

func ResourceColumn(ref string, opts ...ColumnOption) Column {
	return newColumn(RoleResource, ref, opts)
}

// Entity declares one gorm model.
type Entity struct {
	Model    any
	Name     string
	Resource bool
	Fields   []Field
	// Roles is non-empty for role-mapping entities.
	Roles []Column
}

func Resource(model any, fields ...Field) *Entity {
	return &Entity{Model: model, Resource: true, Fields: fields}
}

// RoleMapping declares a table of (actor, role, resource) rows.
func RoleMapping(model any, columns ...Column) *Entity {
	return &Entity{Model: model, Roles: columns}
}

func (e *Entity) AsRoleMapping(columns ...Column) *Entity {
	e.Roles = columns
	return e
}

func (e *Entity) Named(name string) *Entity {
	e.Name = name
	return e
}

func (e *Entity) isRoleMapping() bool { return len(e.Roles) > 0 }

// Registry is an immutable snapshot of declared entities.
type Registry struct {
	entities []*Entity
}

func NewRegistry(entities ...*Entity) *Registry {
	cp := make([]*Entity, len(entities))
	copy(cp, entities)
	return &Registry{entities: cp}
}

func (r *Registry) Entities() []*Entity {
	cp := make([]*Entity, len(r.entities))
	copy(cp, r.entities)
	return cp
}
