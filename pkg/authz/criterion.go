package authz

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sukryu/gorm-oso/pkg/binding"
	"github.com/sukryu/gorm-oso/pkg/client"
)

const criteriaKey = "oso:criteria"

// Criterion is a row filter scoped to one resource type. It is a
// clause.Expression: on the resource's own table it renders the filter
// directly, under any other table name (a join alias) it renders
// "alias.pk IN (SELECT table.pk FROM table WHERE filter)".
type Criterion struct {
	Resource *binding.ResourceSchema
	Actor    client.Value
	Action   string
	// SQL is the predicate returned by the authorization service, written
	// against Resource.Column().
	SQL string
}

func (c *Criterion) Build(builder clause.Builder) {
	if stmt, ok := builder.(*gorm.Statement); ok && stmt.Table != "" && stmt.Table != c.Resource.Table {
		builder.WriteQuoted(clause.Column{Table: stmt.Table, Name: c.Resource.PrimaryKey})
		builder.WriteString(" IN (SELECT ")
		builder.WriteQuoted(clause.Column{Table: c.Resource.Table, Name: c.Resource.PrimaryKey})
		builder.WriteString(" FROM ")
		builder.WriteQuoted(c.Resource.Table)
		builder.WriteString(" WHERE ")
		builder.WriteString(c.SQL)
		builder.WriteByte(')')
		return
	}
	builder.WriteByte('(')
	builder.WriteString(c.SQL)
	builder.WriteByte(')')
}

func (c *Criterion) appliesTo(modelType any) bool {
	return binding.ModelType(modelType) == c.Resource.Schema.ModelType
}

// Criteria returns the criteria attached to db.
func Criteria(db *gorm.DB) []*Criterion {
	v, ok := db.Get(criteriaKey)
	if !ok {
		return nil
	}
	crits, _ := v.([]*Criterion)
	return crits
}

func appendCriterion(db *gorm.DB, c *Criterion) []*Criterion {
	prev := Criteria(db)
	crits := make([]*Criterion, len(prev), len(prev)+1)
	copy(crits, prev)
	return append(crits, c)
}

// withCriterion returns a copy of db carrying c. db is not modified and
// the copy can be reused like any other gorm session.
func withCriterion(db *gorm.DB, c *Criterion) *gorm.DB {
	crits := appendCriterion(db, c)
	return db.Session(&gorm.Session{}).Set(criteriaKey, crits).Session(&gorm.Session{})
}

// scope attaches c to the statement being executed.
func (c *Criterion) scope(db *gorm.DB) *gorm.DB {
	return db.Set(criteriaKey, appendCriterion(db, c))
}
