package binding

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sukryu/gorm-oso/pkg/errors"
)

// Built-in value types.
const (
	TypeString  = "String"
	TypeInteger = "Integer"
	TypeBoolean = "Boolean"
)

// SQL scalar type names understood by the authorization service.
const (
	SQLInteger = "integer"
	SQLText    = "text"
	SQLBoolean = "boolean"
	SQLUUID    = "uuid"
)

var builtinSQLTypes = map[string]string{
	TypeString:  SQLText,
	TypeInteger: SQLInteger,
	TypeBoolean: SQLBoolean,
}

type Fact struct {
	Query string `yaml:"query" json:"query"`
}

// Config is the binding configuration document.
type Config struct {
	Facts    map[string]Fact   `yaml:"facts" json:"facts"`
	SQLTypes map[string]string `yaml:"sql_types" json:"sql_types"`
}

func newConfig() *Config {
	return &Config{
		Facts:    make(map[string]Fact),
		SQLTypes: make(map[string]string),
	}
}

func LoadConfig(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.ErrInvalidConfig.WithReasonf("binding document: %v", err)
	}
	if cfg.Facts == nil {
		cfg.Facts = make(map[string]Fact)
	}
	if cfg.SQLTypes == nil {
		cfg.SQLTypes = make(map[string]string)
	}
	return cfg, nil
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) DeepCopy() *Config {
	out := newConfig()
	for k, v := range c.Facts {
		out.Facts[k] = v
	}
	for k, v := range c.SQLTypes {
		out.SQLTypes[k] = v
	}
	return out
}

// FactKeys returns the fact keys in sorted order.
func (c *Config) FactKeys() []string {
	keys := make([]string, 0, len(c.Facts))
	for k := range c.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SQLType resolves the SQL type of a fact type name.
func (c *Config) SQLType(typeName string) (string, bool) {
	if t, ok := builtinSQLTypes[typeName]; ok {
		return t, true
	}
	t, ok := c.SQLTypes[typeName]
	return t, ok
}

// Literal renders id as a SQL literal of typeName.
func (c *Config) Literal(typeName, id string) (string, error) {
	sqlType, ok := c.SQLType(typeName)
	if !ok {
		return "", errors.ErrInvalidInput.WithReasonf("unknown type %q", typeName)
	}
	switch sqlType {
	case SQLInteger:
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return "", errors.ErrInvalidInput.WithReasonf("%s id %q is not an integer", typeName, id)
		}
		return id, nil
	case SQLBoolean:
		b, err := strconv.ParseBool(id)
		if err != nil {
			return "", errors.ErrInvalidInput.WithReasonf("%s value %q is not a boolean", typeName, id)
		}
		if b {
			return "TRUE", nil
		}
		return "FALSE", nil
	default:
		return "'" + strings.ReplaceAll(id, "'", "''") + "'", nil
	}
}

// InList renders "column IN (...)" over ids. An empty list matches nothing.
func (c *Config) InList(column, typeName string, ids []string) (string, error) {
	if len(ids) == 0 {
		return "1 = 0", nil
	}
	lits := make([]string, 0, len(ids))
	for _, id := range ids {
		lit, err := c.Literal(typeName, id)
		if err != nil {
			return "", err
		}
		lits = append(lits, lit)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(lits, ", ")), nil
}

// Arg is one positional argument of a fact key: either a typed
// placeholder ("Document:_") or a literal ("organization").
type Arg struct {
	Type    string
	Literal string
}

func TypeArg(typeName string) Arg { return Arg{Type: typeName} }

func LiteralArg(s string) Arg { return Arg{Literal: s} }

func (a Arg) String() string {
	if a.Type != "" {
		return a.Type + ":_"
	}
	return a.Literal
}

type FactKey struct {
	Name string
	Args []Arg
}

func (k FactKey) String() string {
	parts := make([]string, len(k.Args))
	for i, a := range k.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", k.Name, strings.Join(parts, ", "))
}

func ParseFactKey(s string) (FactKey, error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return FactKey{}, errors.ErrInvalidInput.WithReasonf("malformed fact key %q", s)
	}
	key := FactKey{Name: s[:open]}
	inner := strings.TrimSpace(s[open+1 : len(s)-1])
	if inner == "" {
		return key, nil
	}
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if t, ok := strings.CutSuffix(part, ":_"); ok {
			key.Args = append(key.Args, TypeArg(t))
		} else {
			key.Args = append(key.Args, LiteralArg(part))
		}
	}
	return key, nil
}
