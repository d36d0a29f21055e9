package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is an ordered mapping of column name to value. Column order is the
// order the database returned. Get and MarshalJSON assume unique names; the
// postgres engine suffixes repeats before building rows.
type Row struct {
	Columns []string
	Values  []Value
}

func NewRow(columns []string, values []Value) Row {
	return Row{Columns: columns, Values: values}
}

func (r Row) Len() int {
	return len(r.Columns)
}

func (r Row) Get(column string) (Value, bool) {
	for i, name := range r.Columns {
		if name == column && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return Null(), false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value := Null()
		if i < len(r.Values) {
			value = r.Values[i]
		}
		encoded, err := value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the key order of the source object.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a JSON object")
	}
	var row Row
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("row key must be a string")
		}
		var value Value
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("row column %q: %w", key, err)
		}
		row.Columns = append(row.Columns, key)
		row.Values = append(row.Values, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = row
	return nil
}
