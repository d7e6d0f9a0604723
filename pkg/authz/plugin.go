package authz

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
	"gorm.io/gorm/utils"

	"github.com/sukryu/gorm-oso/pkg/errors"
)

const (
	pluginName = "oso:authorize"
	appliedKey = "oso:applied"
)

// plugin attaches the criteria stored on a statement right before the
// query is built. It is stateless; every criterion carries its resource.
type plugin struct{}

func (plugin) Name() string { return pluginName }

func (p plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register(pluginName, p.apply); err != nil {
		return err
	}
	return db.Callback().Row().Before("gorm:row").Register(pluginName, p.apply)
}

func (plugin) apply(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	crits := Criteria(db)
	if len(crits) == 0 {
		return
	}
	if _, done := db.InstanceGet(appliedKey); done {
		return
	}
	db.InstanceSet(appliedKey, true)

	stmt := db.Statement
	if stmt.SQL.Len() > 0 {
		db.AddError(errors.ErrInvalidInput.WithReason("raw SQL cannot be authorized"))
		return
	}

	var main []clause.Expression
	for _, c := range crits {
		if matchesStatement(stmt, c) {
			main = append(main, c)
		}
	}
	if err := scopeJoins(stmt, crits); err != nil {
		db.AddError(err)
		return
	}
	if len(main) > 0 {
		addWhere(stmt, main)
	}
}

func matchesStatement(stmt *gorm.Statement, c *Criterion) bool {
	if stmt.Schema != nil {
		return stmt.Schema.ModelType == c.Resource.Schema.ModelType
	}
	return stmt.Table == c.Resource.Table
}

// addWhere ANDs exprs onto the WHERE clause. Existing conditions are
// always grouped so an OR among them cannot swallow the criteria.
func addWhere(stmt *gorm.Statement, exprs []clause.Expression) {
	if c, ok := stmt.Clauses["WHERE"]; ok {
		if where, ok := c.Expression.(clause.Where); ok && len(where.Exprs) > 0 {
			where.Exprs = []clause.Expression{group(where.Exprs)}
			c.Expression = where
			stmt.Clauses["WHERE"] = c
		}
	}
	stmt.AddClause(clause.Where{Exprs: exprs})
}

// group renders its conditions in parentheses. clause.And leaves a single
// raw condition bare and only detects " OR " surrounded by spaces.
type group []clause.Expression

func (g group) Build(builder clause.Builder) {
	builder.WriteByte('(')
	clause.Where{Exprs: g}.Build(builder)
	builder.WriteByte(')')
}

// scopeJoins adds criteria to the ON clause of every relationship join,
// direct or nested, that reaches a scoped resource. Joins that are not a
// relationship path are opaque SQL and fail closed when a criterion targets
// a type other than the statement's own.
func scopeJoins(stmt *gorm.Statement, crits []*Criterion) error {
	if len(stmt.Joins) == 0 {
		return nil
	}
	joins := append(stmt.Joins[:0:0], stmt.Joins...)
	changed := false
	for i := range joins {
		hops, ok := relationPath(stmt, joins[i].Name)
		if !ok {
			if foreignCriterion(stmt, crits) {
				return errors.ErrInvalidInput.WithReason("raw join cannot be authorized: " + joins[i].Name)
			}
			continue
		}

		var scopes []clause.Expression
		parent := ""
		for _, rel := range hops {
			alias := rel.Name
			if parent != "" {
				alias = utils.NestedRelationName(parent, rel.Name)
			}
			parent = alias
			var exprs []clause.Expression
			for _, c := range crits {
				if c.appliesTo(rel.FieldSchema.ModelType) {
					exprs = append(exprs, c)
				}
			}
			if len(exprs) > 0 {
				scopes = append(scopes, joinScope{alias: alias, exprs: exprs})
			}
		}
		if len(scopes) == 0 {
			continue
		}
		on := &clause.Where{}
		if joins[i].On != nil {
			on.Exprs = append(on.Exprs, joins[i].On.Exprs...)
		}
		on.Exprs = append(on.Exprs, scopes...)
		joins[i].On = on
		changed = true
	}
	if changed {
		stmt.Joins = joins
	}
	return nil
}

// relationPath resolves a join name such as "Documents" or
// "Organization.Documents" the way gorm does.
func relationPath(stmt *gorm.Statement, name string) ([]*schema.Relationship, bool) {
	if stmt.Schema == nil {
		return nil, false
	}
	if rel, ok := stmt.Schema.Relationships.Relations[name]; ok {
		return []*schema.Relationship{rel}, true
	}
	names := strings.Split(name, ".")
	if len(names) < 2 {
		return nil, false
	}
	hops := make([]*schema.Relationship, 0, len(names))
	relations := stmt.Schema.Relationships.Relations
	for _, n := range names {
		rel, ok := relations[n]
		if !ok {
			return nil, false
		}
		hops = append(hops, rel)
		relations = rel.FieldSchema.Relationships.Relations
	}
	return hops, true
}

func foreignCriterion(stmt *gorm.Statement, crits []*Criterion) bool {
	for _, c := range crits {
		if !matchesStatement(stmt, c) {
			return true
		}
	}
	return false
}

// joinScope holds the criteria of one hop. gorm builds a join's ON
// conditions once per hop of a nested path, so the criteria only render
// under their own alias and are a tautology elsewhere.
type joinScope struct {
	alias string
	exprs []clause.Expression
}

func (j joinScope) Build(builder clause.Builder) {
	if stmt, ok := builder.(*gorm.Statement); ok && stmt.Table != j.alias {
		builder.WriteString("1 = 1")
		return
	}
	clause.And(j.exprs...).Build(builder)
}
