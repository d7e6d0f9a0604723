package binding

import (
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/sukryu/gorm-oso/pkg/errors"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

type entry struct {
	entity *Entity
	schema *schema.Schema
	name   string
	path   *field.Path
}

type compiler struct {
	db      *gorm.DB
	cache   *sync.Map
	cfg     *Config
	byType  map[reflect.Type]*ResourceSchema
	byName  map[string]*ResourceSchema
	origins map[string]*field.Path
}

// Compile walks the registry once and produces the binding configuration.
// It renders SQL through db's dialector but never touches the database.
func Compile(db *gorm.DB, reg *Registry) (*Bindings, error) {
	c := &compiler{
		db:      db,
		cache:   &sync.Map{},
		cfg:     newConfig(),
		byType:  make(map[reflect.Type]*ResourceSchema),
		byName:  make(map[string]*ResourceSchema),
		origins: make(map[string]*field.Path),
	}

	entries, err := c.parse(reg)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.entity.Resource {
			continue
		}
		if err := c.resource(e); err != nil {
			return nil, err
		}
	}
	for _, e := range entries {
		if e.entity.isRoleMapping() {
			if err := c.roleMapping(e); err != nil {
				return nil, err
			}
			continue
		}
		for i, f := range e.entity.Fields {
			if err := c.field(e, f, e.path.Child("fields").Index(i)); err != nil {
				return nil, err
			}
		}
	}

	return &Bindings{config: c.cfg, byType: c.byType, byName: c.byName}, nil
}

func (c *compiler) parse(reg *Registry) ([]entry, error) {
	var (
		errs    field.ErrorList
		entries []entry
		models  = make(map[reflect.Type]string)
		names   = make(map[string]bool)
	)
	for i, e := range reg.entities {
		path := field.NewPath("entities").Index(i)
		if e == nil || e.Model == nil {
			errs = append(errs, field.Required(path.Child("model"), "a gorm model is required"))
			continue
		}
		sch, err := schema.Parse(e.Model, c.cache, c.db.NamingStrategy)
		if err != nil {
			errs = append(errs, field.Invalid(path.Child("model"), reflect.TypeOf(e.Model).String(), err.Error()))
			continue
		}
		name := e.Name
		if name == "" {
			name = sch.Name
		}
		path = field.NewPath(name)
		if prev, ok := models[sch.ModelType]; ok {
			errs = append(errs, field.Duplicate(path, "model already declared as "+prev))
			continue
		}
		if names[name] {
			errs = append(errs, field.Duplicate(path, name))
			continue
		}
		if !e.Resource && !e.isRoleMapping() {
			errs = append(errs, field.Invalid(path, name, "entity is neither a resource nor a role mapping"))
			continue
		}
		models[sch.ModelType] = name
		names[name] = true
		entries = append(entries, entry{entity: e, schema: sch, name: name, path: path})
	}
	if len(errs) > 0 {
		return nil, errors.ErrInvalidMapping.WithReason(errs.ToAggregate().Error())
	}
	return entries, nil
}

func (c *compiler) resource(e entry) error {
	pk := e.path.Child("primaryKey")
	switch n := len(e.schema.PrimaryFields); {
	case n == 0:
		return invalid(field.Required(pk, "resource has no primary key"))
	case n > 1:
		cols := make([]string, n)
		for i, f := range e.schema.PrimaryFields {
			cols[i] = f.DBName
		}
		return invalid(field.Invalid(pk, strings.Join(cols, ","), "composite primary keys are not supported"))
	}
	f := e.schema.PrimaryFields[0]
	sqlType, ok := sqlTypeOf(f)
	if !ok {
		return unsupported(field.Invalid(pk.Child(f.DBName), string(f.GORMDataType), "primary key type has no SQL mapping"))
	}
	r := &ResourceSchema{
		Name:       e.name,
		Table:      e.schema.Table,
		PrimaryKey: f.DBName,
		SQLType:    sqlType,
		Schema:     e.schema,
	}
	c.byType[e.schema.ModelType] = r
	c.byName[r.Name] = r
	c.cfg.SQLTypes[r.Name] = sqlType
	return nil
}

func (c *compiler) field(e entry, f Field, path *field.Path) error {
	r := c.byType[e.schema.ModelType]
	switch f.Kind {
	case KindAttribute:
		return c.attribute(r, f, path)
	case KindRelation:
		return c.relation(r, f, path)
	case KindRemoteRelation:
		return c.remoteRelation(r, f, path)
	default:
		return invalid(field.Invalid(path.Child("kind"), int(f.Kind), "unknown binding kind"))
	}
}

func (c *compiler) column(r *ResourceSchema, ref string, path *field.Path) (*schema.Field, error) {
	fld := r.Schema.LookUpField(ref)
	if fld == nil || fld.DBName == "" {
		return nil, invalid(field.Invalid(path, ref, "no such column"))
	}
	return fld, nil
}

func (c *compiler) attribute(r *ResourceSchema, f Field, path *field.Path) error {
	fld, err := c.column(r, f.Ref, path.Child(f.Ref))
	if err != nil {
		return err
	}
	sqlType, ok := sqlTypeOf(fld)
	if !ok {
		return unsupported(field.Invalid(path.Child(fld.DBName), string(fld.GORMDataType), "attribute type is not boolean, integer or string"))
	}
	pk := clause.Column{Table: r.Table, Name: r.PrimaryKey}
	col := clause.Column{Table: r.Table, Name: fld.DBName}

	if sqlType == SQLBoolean {
		name := fld.DBName
		if !strings.HasPrefix(name, "is_") {
			name = "is_" + name
		}
		key := FactKey{Name: name, Args: []Arg{TypeArg(r.Name)}}
		q := c.render(r.Table, []clause.Column{pk}, nil,
			[]clause.Expression{clause.Eq{Column: col, Value: clause.Expr{SQL: "TRUE"}}})
		return c.addFact(key, q, path)
	}

	key := FactKey{Name: "has_" + fld.DBName, Args: []Arg{TypeArg(r.Name), TypeArg(valueType(sqlType))}}
	q := c.render(r.Table, []clause.Column{pk, col}, nil, nil)
	return c.addFact(key, q, path)
}

func (c *compiler) relation(r *ResourceSchema, f Field, path *field.Path) error {
	rel, ok := r.Schema.Relationships.Relations[f.Ref]
	if !ok {
		return invalid(field.Invalid(path.Child(f.Ref), f.Ref, "no such relationship"))
	}
	path = path.Child(rel.Name)
	target, ok := c.byType[rel.FieldSchema.ModelType]
	if !ok {
		return invalid(field.Invalid(path, rel.FieldSchema.Name, "relationship targets a model that is not a registered resource"))
	}
	name := f.Name
	if name == "" {
		name = c.db.NamingStrategy.ColumnName("", rel.Name)
	}

	alias := target.Table
	if target.Table == r.Table {
		alias = name
	}
	remote := clause.Table{Name: target.Table}
	if alias != target.Table {
		remote.Alias = alias
	}

	var joins []clause.Join
	switch {
	case f.On != nil:
		joins = []clause.Join{{Type: clause.InnerJoin, Table: remote, ON: clause.Where{Exprs: []clause.Expression{f.On}}}}
	case rel.Type == schema.Many2Many:
		joins = many2manyJoins(r, rel, remote, alias)
	default:
		joins = []clause.Join{{Type: clause.InnerJoin, Table: remote, ON: clause.Where{Exprs: referenceExprs(r.Table, alias, rel.References)}}}
	}

	key := FactKey{Name: "has_relation", Args: []Arg{TypeArg(r.Name), LiteralArg(name), TypeArg(target.Name)}}
	q := c.render(r.Table, []clause.Column{
		{Table: r.Table, Name: r.PrimaryKey},
		{Table: alias, Name: target.PrimaryKey},
	}, joins, nil)
	return c.addFact(key, q, path)
}

// referenceExprs builds the join predicate the same way gorm joins a
// relationship: own keys, foreign keys, and polymorphic type literals.
func referenceExprs(local, alias string, refs []*schema.Reference) []clause.Expression {
	exprs := make([]clause.Expression, 0, len(refs))
	for _, ref := range refs {
		switch {
		case ref.OwnPrimaryKey:
			exprs = append(exprs, clause.Eq{
				Column: clause.Column{Table: local, Name: ref.PrimaryKey.DBName},
				Value:  clause.Column{Table: alias, Name: ref.ForeignKey.DBName},
			})
		case ref.PrimaryValue == "":
			exprs = append(exprs, clause.Eq{
				Column: clause.Column{Table: local, Name: ref.ForeignKey.DBName},
				Value:  clause.Column{Table: alias, Name: ref.PrimaryKey.DBName},
			})
		default:
			exprs = append(exprs, clause.Eq{
				Column: clause.Column{Table: alias, Name: ref.ForeignKey.DBName},
				Value:  clause.Expr{SQL: quoteLiteral(ref.PrimaryValue)},
			})
		}
	}
	return exprs
}

func many2manyJoins(r *ResourceSchema, rel *schema.Relationship, remote clause.Table, alias string) []clause.Join {
	jt := rel.JoinTable.Table
	var own, other []clause.Expression
	for _, ref := range rel.References {
		if ref.OwnPrimaryKey {
			own = append(own, clause.Eq{
				Column: clause.Column{Table: r.Table, Name: ref.PrimaryKey.DBName},
				Value:  clause.Column{Table: jt, Name: ref.ForeignKey.DBName},
			})
			continue
		}
		if ref.PrimaryValue != "" {
			own = append(own, clause.Eq{
				Column: clause.Column{Table: jt, Name: ref.ForeignKey.DBName},
				Value:  clause.Expr{SQL: quoteLiteral(ref.PrimaryValue)},
			})
			continue
		}
		other = append(other, clause.Eq{
			Column: clause.Column{Table: jt, Name: ref.ForeignKey.DBName},
			Value:  clause.Column{Table: alias, Name: ref.PrimaryKey.DBName},
		})
	}
	return []clause.Join{
		{Type: clause.InnerJoin, Table: clause.Table{Name: jt}, ON: clause.Where{Exprs: own}},
		{Type: clause.InnerJoin, Table: remote, ON: clause.Where{Exprs: other}},
	}
}

func (c *compiler) remoteRelation(r *ResourceSchema, f Field, path *field.Path) error {
	fld, err := c.column(r, f.Ref, path.Child(f.Ref))
	if err != nil {
		return err
	}
	path = path.Child(fld.DBName)
	if f.RemoteType == "" {
		return invalid(field.Required(path.Child("remoteType"), "remote relations need a remote type name"))
	}
	if _, local := c.byName[f.RemoteType]; local {
		return invalid(field.Invalid(path.Child("remoteType"), f.RemoteType, "type is a local resource, declare a relation instead"))
	}
	sqlType, ok := sqlTypeOf(fld)
	if !ok {
		return unsupported(field.Invalid(path, string(fld.GORMDataType), "remote id column type has no SQL mapping"))
	}
	if err := c.recordType(f.RemoteType, sqlType, path); err != nil {
		return err
	}
	name := f.Name
	if name == "" {
		name = strings.TrimSuffix(fld.DBName, "_id")
	}
	key := FactKey{Name: "has_relation", Args: []Arg{TypeArg(r.Name), LiteralArg(name), TypeArg(f.RemoteType)}}
	q := c.render(r.Table, []clause.Column{
		{Table: r.Table, Name: r.PrimaryKey},
		{Table: r.Table, Name: fld.DBName},
	}, nil, nil)
	return c.addFact(key, q, path)
}

func (c *compiler) roleMapping(e entry) error {
	path := e.path.Child("roles")
	var (
		cols  [RoleResource + 1]*schema.Field
		types [RoleResource + 1]string
	)
	for i, col := range e.entity.Roles {
		p := path.Index(i)
		if col.Role < RoleActor || col.Role > RoleResource {
			return invalid(field.Invalid(p.Child("role"), int(col.Role), "unknown column role"))
		}
		if cols[col.Role] != nil {
			return invalid(field.Duplicate(p.Child(col.Role.String()), col.Ref))
		}
		fld := e.schema.LookUpField(col.Ref)
		if fld == nil || fld.DBName == "" {
			return invalid(field.Invalid(p.Child(col.Role.String()), col.Ref, "no such column"))
		}
		typ, err := c.roleColumnType(e.schema, col, fld, p.Child(col.Role.String()))
		if err != nil {
			return err
		}
		cols[col.Role] = fld
		types[col.Role] = typ
	}
	for _, role := range []Role{RoleActor, RoleName, RoleResource} {
		if cols[role] == nil {
			return invalid(field.Required(path.Child(role.String()), "role mappings need actor, role and resource columns"))
		}
	}

	key := FactKey{Name: "has_role", Args: []Arg{TypeArg(types[RoleActor]), TypeArg(types[RoleName]), TypeArg(types[RoleResource])}}
	q := c.render(e.schema.Table, []clause.Column{
		{Table: e.schema.Table, Name: cols[RoleActor].DBName},
		{Table: e.schema.Table, Name: cols[RoleName].DBName},
		{Table: e.schema.Table, Name: cols[RoleResource].DBName},
	}, nil, nil)
	return c.addFact(key, q, path)
}

// roleColumnType resolves an explicit tag first, then a belongs-to foreign
// key, then the String default for the role column.
func (c *compiler) roleColumnType(sch *schema.Schema, col Column, fld *schema.Field, path *field.Path) (string, error) {
	sqlType, ok := sqlTypeOf(fld)
	if !ok {
		return "", unsupported(field.Invalid(path, string(fld.GORMDataType), "column type has no SQL mapping"))
	}
	if col.Type != "" {
		if _, local := c.byName[col.Type]; !local {
			if _, builtin := builtinSQLTypes[col.Type]; !builtin {
				if err := c.recordType(col.Type, sqlType, path); err != nil {
					return "", err
				}
			}
		}
		return col.Type, nil
	}
	for _, rel := range sch.Relationships.BelongsTo {
		for _, ref := range rel.References {
			if ref.ForeignKey == nil || ref.ForeignKey.DBName != fld.DBName {
				continue
			}
			target, ok := c.byType[rel.FieldSchema.ModelType]
			if !ok {
				return "", invalid(field.Invalid(path, rel.FieldSchema.Name, "foreign key references a model that is not a registered resource"))
			}
			return target.Name, nil
		}
	}
	if col.Role == RoleName {
		if sqlType != SQLText {
			return "", unsupported(field.Invalid(path, sqlType, "role column must be a string"))
		}
		return TypeString, nil
	}
	return "", invalid(field.Required(path, "column has no foreign key to a resource and no explicit type"))
}

func (c *compiler) recordType(name, sqlType string, path *field.Path) error {
	if prev, ok := c.cfg.SQLTypes[name]; ok && prev != sqlType {
		return invalid(field.Invalid(path, sqlType, "type "+name+" already recorded as "+prev))
	}
	c.cfg.SQLTypes[name] = sqlType
	return nil
}

func (c *compiler) addFact(key FactKey, query string, path *field.Path) error {
	k := key.String()
	if prev, ok := c.cfg.Facts[k]; ok && prev.Query != query {
		return errors.ErrDuplicateFact.WithReason(
			field.Duplicate(path, k).Error() + " (first declared at " + c.origins[k].String() + ")")
	}
	c.cfg.Facts[k] = Fact{Query: query}
	c.origins[k] = path
	return nil
}

func (c *compiler) render(table string, cols []clause.Column, joins []clause.Join, where []clause.Expression) string {
	return c.db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		tx = tx.Table(table).Clauses(
			clause.Select{Columns: cols},
			clause.From{Tables: []clause.Table{{Name: table}}, Joins: joins},
		)
		if len(where) > 0 {
			tx = tx.Clauses(clause.Where{Exprs: where})
		}
		return tx.Find(&[]map[string]any{})
	})
}

func sqlTypeOf(f *schema.Field) (string, bool) {
	if f.IndirectFieldType == uuidType || strings.EqualFold(f.TagSettings["TYPE"], "uuid") {
		return SQLUUID, true
	}
	switch f.GORMDataType {
	case schema.Bool:
		return SQLBoolean, true
	case schema.Int, schema.Uint:
		return SQLInteger, true
	case schema.String:
		return SQLText, true
	}
	return "", false
}

func valueType(sqlType string) string {
	switch sqlType {
	case SQLBoolean:
		return TypeBoolean
	case SQLInteger:
		return TypeInteger
	default:
		return TypeString
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func invalid(fe *field.Error) error {
	return errors.ErrInvalidMapping.WithReason(fe.Error())
}

func unsupported(fe *field.Error) error {
	return errors.ErrUnsupportedType.WithReason(fe.Error())
}
