package binding

import (
	"reflect"

	"gorm.io/gorm/schema"
)

// ResourceSchema describes a compiled resource entity.
type ResourceSchema struct {
	Name       string
	Table      string
	PrimaryKey string
	SQLType    string
	Schema     *schema.Schema
}

// Column returns the primary key column qualified by the schema table
// name, e.g. "documents.id" under gorm's default naming.
func (r *ResourceSchema) Column() string {
	return r.Table + "." + r.PrimaryKey
}

// Bindings is the immutable result of Compile.
type Bindings struct {
	config *Config
	byType map[reflect.Type]*ResourceSchema
	byName map[string]*ResourceSchema
}

// Config returns a copy of the binding configuration.
func (b *Bindings) Config() *Config {
	return b.config.DeepCopy()
}

// Document renders the configuration document handed to the
// authorization service.
func (b *Bindings) Document() ([]byte, error) {
	return b.config.Marshal()
}

// Resource looks up the resource declared for model. model may be a
// struct, a pointer, a slice or a reflect.Type of any of those.
func (b *Bindings) Resource(model any) (*ResourceSchema, bool) {
	t := ModelType(model)
	if t == nil {
		return nil, false
	}
	r, ok := b.byType[t]
	return r, ok
}

func (b *Bindings) ResourceByName(name string) (*ResourceSchema, bool) {
	r, ok := b.byName[name]
	return r, ok
}

// Resources returns the compiled resources keyed by type name.
func (b *Bindings) Resources() map[string]*ResourceSchema {
	out := make(map[string]*ResourceSchema, len(b.byName))
	for k, v := range b.byName {
		out[k] = v
	}
	return out
}

// ModelType returns the struct type behind model, or nil.
func ModelType(model any) reflect.Type {
	if model == nil {
		return nil
	}
	t, ok := model.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(model)
	}
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}
