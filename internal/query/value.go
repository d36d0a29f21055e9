package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a tagged scalar cell.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

func Null() Value {
	return Value{}
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Text renders the value for labels: null is empty, numbers use the
// shortest exact form.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Float coerces the value to a number. Numeric strings parse; everything
// else reports false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Any returns the plain Go value (nil, string, float64 or bool).
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber && (math.IsNaN(v.num) || math.IsInf(v.num, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch typed := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(typed)
	case bool:
		*v = Bool(typed)
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return fmt.Errorf("decode number %q: %w", typed, err)
		}
		*v = Number(f)
	default:
		return fmt.Errorf("cell must be a scalar, got %T", raw)
	}
	return nil
}

// FromDriver converts a value scanned from database/sql. dbType is the
// column's DatabaseTypeName and decides whether text carries a number.
func FromDriver(raw any, dbType string) Value {
	switch typed := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(typed)
	case int64:
		return Number(float64(typed))
	case int32:
		return Number(float64(typed))
	case int:
		return Number(float64(typed))
	case float64:
		return Number(typed)
	case float32:
		return Number(float64(typed))
	case time.Time:
		return String(typed.UTC().Format(time.RFC3339))
	case []byte:
		return textValue(string(typed), dbType)
	case string:
		return textValue(typed, dbType)
	case fmt.Stringer:
		return String(typed.String())
	default:
		return String(fmt.Sprint(typed))
	}
}

func textValue(s, dbType string) Value {
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL", "MONEY", "FLOAT4", "FLOAT8", "INT2", "INT4", "INT8":
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(s)
		if f, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64); err == nil {
			return Number(f)
		}
	}
	return String(s)
}
