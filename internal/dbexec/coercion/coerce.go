// Package coercion implements the conversion of a raw scalar
// returned by the driver into the type a caller asked for, with the
// null-preserving, nullable-wrapper-aware, GUID/byte-array/enum special
// cases an execution engine needs. Expressed with Go generics and
// reflection, following the field-kind dispatch style go-playground/validator
// uses for type-driven conversion and google/uuid's parsing helpers.
package coercion

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// enumNameTables holds, per enum type, a case-insensitive name-to-value
// table registered via RegisterEnumNames. Go's reflection cannot enumerate
// a type's declared constants on its own, so name-based string coercion
// only works for enum types whose names were registered up front —
// typically from an init() alongside the constant block, the way the
// publishing package pairs TargetType's consts with ParseTargetType.
var enumNameTables sync.Map // map[reflect.Type]map[string]reflect.Value

// RegisterEnumNames registers the case-insensitive name table for an enum
// type T, letting Coerce[T] accept driver values like "active" in addition
// to T's numeric or string encoding. Call once per enum type, typically
// from an init() function next to the type's constant block.
func RegisterEnumNames[T any](names map[string]T) {
	var zero T
	table := make(map[string]reflect.Value, len(names))
	for name, value := range names {
		table[strings.ToLower(name)] = reflect.ValueOf(value)
	}
	enumNameTables.Store(reflect.TypeOf(zero), table)
}

// Nullable is a present/absent wrapper whose Valid flag is distinct from
// T's zero value. Coerce has no rule for Nullable: its nullable-wrapper rule
// covers pointer targets only, so for a Nullable target a NULL driver value
// yields Nullable[T]{} and any other value fails with InvalidConversionError.
type Nullable[T any] struct {
	Value T
	Valid bool
}

// Coerce converts v (nil meaning database NULL) into the type of the zero
// value passed via the generic parameter T, following the coercion rules'
// ordered rules. Scalar(ctx) callers use this via the ExecuteScalar generic
// wrapper in the executor package.
func Coerce[T any](v any) (T, error) {
	var zero T

	// Rule 1: NULL preserved as the zero value.
	if v == nil {
		return zero, nil
	}

	// Rule 2: already the requested concrete type.
	if typed, ok := v.(T); ok {
		return typed, nil
	}

	zeroVal := reflect.ValueOf(&zero).Elem()
	targetType := zeroVal.Type()

	// Rule 3: nullable wrapper (pointer target) — recurse on the pointee,
	// then wrap. A nil result stays nil (absent).
	if targetType.Kind() == reflect.Ptr {
		elemType := targetType.Elem()
		inner := reflect.New(elemType).Elem()
		coerced, err := coerceInto(v, inner)
		if err != nil {
			return zero, err
		}
		out := reflect.New(elemType)
		out.Elem().Set(coerced)
		return out.Interface().(T), nil
	}

	coerced, err := coerceInto(v, zeroVal)
	if err != nil {
		return zero, err
	}
	return coerced.Interface().(T), nil
}

// coerceInto applies rules 4-7 against target's type, returning a
// reflect.Value assignable to target's type.
func coerceInto(v any, target reflect.Value) (reflect.Value, error) {
	targetType := target.Type()

	// Rule 4: UUID/GUID.
	if targetType == reflect.TypeOf(uuid.UUID{}) {
		id, err := coerceUUID(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(id), nil
	}

	// Rule 5: byte array / slice.
	if targetType.Kind() == reflect.Slice && targetType.Elem().Kind() == reflect.Uint8 {
		b, err := coerceBytes(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	}

	// Rule 6: enumeration (a named type over an integer or string kind).
	if isEnumKind(targetType) {
		return coerceEnum(v, targetType)
	}

	// Rule 7: invariant-culture primitive conversion.
	return coercePrimitive(v, targetType)
}

func coerceUUID(v any) (uuid.UUID, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, nil
	case [16]byte:
		return uuid.UUID(val), nil
	case []byte:
		if len(val) == 16 {
			var id uuid.UUID
			copy(id[:], val)
			return id, nil
		}
		parsed, err := uuid.ParseBytes(val)
		if err != nil {
			return uuid.UUID{}, dbexec.NewInvalidConversionError(fmt.Sprintf("%T", v), "uuid.UUID", err)
		}
		return parsed, nil
	case string:
		parsed, err := uuid.Parse(val)
		if err != nil {
			return uuid.UUID{}, dbexec.NewInvalidConversionError("string", "uuid.UUID", err)
		}
		return parsed, nil
	default:
		parsed, err := uuid.Parse(fmt.Sprintf("%v", val))
		if err != nil {
			return uuid.UUID{}, dbexec.NewInvalidConversionError(fmt.Sprintf("%T", v), "uuid.UUID", err)
		}
		return parsed, nil
	}
}

func coerceBytes(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case [16]byte:
		return val[:], nil
	case string:
		return []byte(val), nil
	default:
		return nil, dbexec.NewInvalidConversionError(fmt.Sprintf("%T", v), "[]byte", nil)
	}
}

func isEnumKind(t reflect.Type) bool {
	if t.PkgPath() == "" {
		return false // unnamed primitive type, not an enum
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.String:
		return true
	default:
		return false
	}
}

// coerceEnum handles rule 6: a string value is matched case-insensitively
// against the target type's registered name table first (see
// RegisterEnumNames), then against its numeric encoding; any other value is
// converted directly if its kind is convertible to the target.
func coerceEnum(v any, targetType reflect.Type) (reflect.Value, error) {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if table, ok := enumNameTables.Load(targetType); ok {
			if rv, found := table.(map[string]reflect.Value)[strings.ToLower(trimmed)]; found {
				return rv, nil
			}
		}
		if targetType.Kind() != reflect.String {
			if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				return reflect.ValueOf(n).Convert(targetType), nil
			}
		}
		return reflect.Value{}, dbexec.NewInvalidConversionError("string", targetType.String(), fmt.Errorf("enum value %q did not match a registered name and is not numeric", val))
	default:
		rv := reflect.ValueOf(v)
		if rv.Type().ConvertibleTo(targetType) {
			return rv.Convert(targetType), nil
		}
		return reflect.Value{}, dbexec.NewInvalidConversionError(fmt.Sprintf("%T", v), targetType.String(), nil)
	}
}

// coercePrimitive handles rule 7: invariant-culture conversion between
// driver-native primitives (numeric, bool, string, time) and the requested
// primitive type.
func coercePrimitive(v any, targetType reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(v)

	if rv.Type().ConvertibleTo(targetType) && convertibleKinds(rv.Kind(), targetType.Kind()) {
		return rv.Convert(targetType), nil
	}

	if s, ok := v.(string); ok {
		return parseStringAs(s, targetType)
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprintf("%v", v)).Convert(targetType), nil
	}

	return reflect.Value{}, dbexec.NewInvalidConversionError(fmt.Sprintf("%T", v), targetType.String(), nil)
}

// convertibleKinds rejects Go's permissive numeric<->string ConvertibleTo
// (e.g. int->string converts to a rune, not a decimal string) outside of
// matching numeric/bool families.
func convertibleKinds(from, to reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		switch k {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		default:
			return false
		}
	}
	if numeric(from) && numeric(to) {
		return true
	}
	return from == to
}

func parseStringAs(s string, targetType reflect.Type) (reflect.Value, error) {
	switch targetType.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return reflect.Value{}, dbexec.NewInvalidConversionError("string", targetType.String(), err)
		}
		return reflect.ValueOf(n).Convert(targetType), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return reflect.Value{}, dbexec.NewInvalidConversionError("string", targetType.String(), err)
		}
		return reflect.ValueOf(n).Convert(targetType), nil
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return reflect.Value{}, dbexec.NewInvalidConversionError("string", targetType.String(), err)
		}
		return reflect.ValueOf(n).Convert(targetType), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return reflect.Value{}, dbexec.NewInvalidConversionError("string", targetType.String(), err)
		}
		return reflect.ValueOf(b), nil
	case reflect.String:
		return reflect.ValueOf(s).Convert(targetType), nil
	default:
		return reflect.Value{}, dbexec.NewInvalidConversionError("string", targetType.String(), nil)
	}
}
