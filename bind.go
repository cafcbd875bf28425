package psychics

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// Tag constants
const (
	tagName = "psychics"
)

// Tag modifiers
const (
	modOpt = "opt"  // Optional (left unset and not written back when missing)
	modMin = "min=" // Lower bound for numeric fields
)

// tagInfo holds parsed tag information.
type tagInfo struct {
	Key      string
	Optional bool
	Min      *float64
}

// parseTag parses a psychics struct tag. The first element is the config key.
func parseTag(tag string) (tagInfo, bool) {
	if tag == "" || tag == "-" {
		return tagInfo{}, false
	}

	parts := strings.Split(tag, ",")
	info := tagInfo{Key: strings.TrimSpace(parts[0])}
	if info.Key == "" {
		return tagInfo{}, false
	}

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		switch {
		case part == modOpt:
			info.Optional = true
		case strings.HasPrefix(part, modMin):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(part, modMin), 64); err == nil {
				info.Min = &v
			}
		}
	}
	return info, true
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// bindSpec applies the values of cfg to the tagged fields of spec.
// Keys missing from cfg are filled with the field's current (default) value,
// and changed reports that cfg was modified. Fields of embedded structs are
// bound as if they were declared on the outer struct.
func bindSpec(spec Spec, cfg *Section) (changed bool, err error) {
	v := reflect.ValueOf(spec)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return false, fmt.Errorf("spec %T must be a non-nil pointer to a struct", spec)
	}
	return bindStruct(v.Elem(), cfg)
}

func bindStruct(v reflect.Value, cfg *Section) (bool, error) {
	t := v.Type()
	changed := false

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get(tagName)

		if field.Anonymous && field.Type.Kind() == reflect.Struct && tag == "" {
			c, err := bindStruct(v.Field(i), cfg)
			if err != nil {
				return false, err
			}
			changed = changed || c
			continue
		}
		if !field.IsExported() {
			continue
		}

		info, ok := parseTag(tag)
		if !ok {
			continue
		}
		fv := v.Field(i)

		raw, present := cfg.Get(info.Key)
		if !present {
			if info.Optional {
				continue
			}
			def, err := encodeValue(fv)
			if err != nil {
				return false, &ParseError{Key: info.Key, Err: err}
			}
			cfg.Set(info.Key, def)
			changed = true
			continue
		}
		if raw == nil {
			continue
		}

		if err := setValue(fv, raw); err != nil {
			return false, &ParseError{Key: info.Key, Err: err}
		}
		if info.Min != nil {
			if err := checkMin(fv, *info.Min); err != nil {
				return false, &ParseError{Key: info.Key, Err: err}
			}
		}
	}
	return changed, nil
}

// encodeValue turns a field value into a Section value.
func encodeValue(fv reflect.Value) (any, error) {
	if fv.Kind() == reflect.Pointer && fv.IsNil() {
		return nil, nil
	}
	var node yaml.Node
	if err := node.Encode(fv.Interface()); err != nil {
		return nil, err
	}
	return decodeNode(&node)
}

// setValue converts raw into the type of fv and stores it.
func setValue(fv reflect.Value, raw any) error {
	if fv.Kind() == reflect.Pointer {
		elem := reflect.New(fv.Type().Elem())
		if err := setValue(elem.Elem(), raw); err != nil {
			return err
		}
		fv.Set(elem)
		return nil
	}

	if fv.CanAddr() && fv.Addr().Type().Implements(textUnmarshalerType) {
		if !isScalar(raw) {
			return fmt.Errorf("expected a scalar, got %T", raw)
		}
		return fv.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(fmt.Sprint(raw)))
	}

	switch fv.Kind() {
	case reflect.String:
		if !isScalar(raw) {
			return fmt.Errorf("expected a scalar, got %T", raw)
		}
		fv.SetString(fmt.Sprint(raw))
		return nil
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if !isScalar(raw) {
			return fmt.Errorf("expected a scalar, got %T", raw)
		}
		out, err := cast.FromType(fmt.Sprint(raw), fv.Type())
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(out).Convert(fv.Type()))
		return nil
	}

	// Composite values go through yaml so nested structs, slices and maps
	// decode with their own yaml tags.
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	target := reflect.New(fv.Type())
	if err := yaml.Unmarshal(data, target.Interface()); err != nil {
		return err
	}
	fv.Set(target.Elem())
	return nil
}

func isScalar(raw any) bool {
	switch raw.(type) {
	case *Section, []any, map[string]any:
		return false
	}
	return true
}

var errBelowMin = errors.New("value below minimum")

// checkMin validates a numeric field against its lower bound.
func checkMin(fv reflect.Value, lower float64) error {
	var n float64
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = float64(fv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = float64(fv.Uint())
	case reflect.Float32, reflect.Float64:
		n = fv.Float()
	default:
		return nil
	}
	if n < lower {
		return fmt.Errorf("%w: %v < %v", errBelowMin, n, lower)
	}
	return nil
}
