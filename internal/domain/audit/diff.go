package audit

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Fields is a flat field-name to value view of one version of an entity.
type Fields map[string]any

// Diff returns the fields whose values differ between before and after.
// Values are compared after normalization, so 1, int64(1), 1.0 and
// json.Number("1") are equal, as are two times naming the same instant.
// A field present on only one side is recorded with Absent on the other.
// Diff does not check that both sides describe the same entity.
func Diff(before, after Fields) Changes {
	changes := Changes{}
	for k, b := range before {
		nb := normalize(b)
		a, ok := after[k]
		if !ok {
			changes[k] = FieldChange{Before: nb, After: Absent}
			continue
		}
		na := normalize(a)
		if !reflect.DeepEqual(nb, na) {
			changes[k] = FieldChange{Before: nb, After: na}
		}
	}
	for k, a := range after {
		if _, ok := before[k]; !ok {
			changes[k] = FieldChange{Before: Absent, After: normalize(a)}
		}
	}
	return changes
}

// DiffOf converts before and after to Fields through their JSON encoding and
// diffs them. A nil side is treated as an entity with no fields.
func DiffOf(before, after any) (Changes, error) {
	b, err := FieldsOf(before)
	if err != nil {
		return nil, fmt.Errorf("before: %w", err)
	}
	a, err := FieldsOf(after)
	if err != nil {
		return nil, fmt.Errorf("after: %w", err)
	}
	return Diff(b, a), nil
}

// FieldsOf returns the top-level JSON fields of v.
func FieldsOf(v any) (Fields, error) {
	switch t := v.(type) {
	case nil:
		return Fields{}, nil
	case Fields:
		return t, nil
	case map[string]any:
		return Fields(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return Fields{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%T is not an object: %w", v, err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}

// normalize maps v onto a canonical, JSON-shaped value: numbers become
// json.Number, times become UTC RFC 3339 strings, byte slices become their
// base64 JSON form, pointers are followed and slices and string-keyed maps
// are rebuilt element by element. The result always marshals.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}

	switch t := v.(type) {
	case json.Number:
		return canonicalNumber(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case json.RawMessage:
		dec := json.NewDecoder(bytes.NewReader(t))
		dec.UseNumber()
		var decoded any
		if err := dec.Decode(&decoded); err != nil {
			return base64.StdEncoding.EncodeToString(t)
		}
		return normalize(decoded)
	case encoding.TextMarshaler:
		b, err := t.MarshalText()
		if err != nil {
			return v
		}
		return string(b)
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return json.Number(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return floatNumber(rv.Float())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}

func canonicalNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return json.Number(strconv.FormatInt(i, 10))
	}
	if f, err := n.Float64(); err == nil {
		return floatNumber(f)
	}
	return n
}

func floatNumber(f float64) any {
	// JSON has no NaN or infinity; "NaN", "+Inf" and "-Inf" stand in for them
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return json.Number(strconv.FormatInt(int64(f), 10))
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}
