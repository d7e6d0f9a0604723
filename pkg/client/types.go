package client

import (
	"context"
	"fmt"
	"strconv"
)

// Value is a typed identity, e.g. Agent:1 or String:admin.
type Value struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func NewValue(typ string, id any) Value {
	switch v := id.(type) {
	case string:
		return Value{Type: typ, ID: v}
	case int:
		return Value{Type: typ, ID: strconv.Itoa(v)}
	case int64:
		return Value{Type: typ, ID: strconv.FormatInt(v, 10)}
	case uint:
		return Value{Type: typ, ID: strconv.FormatUint(uint64(v), 10)}
	case int8:
		return Value{Type: typ, ID: strconv.FormatInt(int64(v), 10)}
	case int16:
		return Value{Type: typ, ID: strconv.FormatInt(int64(v), 10)}
	case int32:
		return Value{Type: typ, ID: strconv.FormatInt(int64(v), 10)}
	case uint8:
		return Value{Type: typ, ID: strconv.FormatUint(uint64(v), 10)}
	case uint16:
		return Value{Type: typ, ID: strconv.FormatUint(uint64(v), 10)}
	case uint32:
		return Value{Type: typ, ID: strconv.FormatUint(uint64(v), 10)}
	case uint64:
		return Value{Type: typ, ID: strconv.FormatUint(v, 10)}
	case bool:
		return Value{Type: typ, ID: strconv.FormatBool(v)}
	case interface{ String() string }:
		return Value{Type: typ, ID: v.String()}
	case nil:
		return Value{Type: typ}
	default:
		return Value{Type: typ, ID: fmt.Sprint(v)}
	}
}

func String(s string) Value { return Value{Type: "String", ID: s} }

func (v Value) String() string { return v.Type + ":" + v.ID }

type Fact struct {
	Name string  `json:"name"`
	Args []Value `json:"args"`
}

// RowFilterer returns a SQL predicate over column that keeps the rows of
// resourceType on which actor may perform action.
type RowFilterer interface {
	ListLocal(ctx context.Context, actor Value, action, resourceType, column string) (string, error)
}

// FactWriter stores facts that do not live in the local database.
type FactWriter interface {
	Insert(ctx context.Context, fact Fact) error
	Delete(ctx context.Context, fact Fact) error
}
