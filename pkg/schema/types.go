package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Type defines the contract for field validation.
type Type interface {
	// Name returns the name used in flow files (e.g., "text", "int").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

// DateLayout is the wire layout of date answers.
const DateLayout = "2006-01-02"

// StringType accepts any string, including the empty one.
type StringType struct{}

func (t *StringType) Name() string { return "string" }

func (t *StringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

// TextType accepts strings with at least one non-blank character.
// Free-text answers (names, notes) use it so "   " does not count as answered.
type TextType struct{}

func (t *TextType) Name() string { return "text" }

func (t *TextType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected text, got %T", value)
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("must not be blank")
	}
	return nil
}

// IntType validates integer values.
type IntType struct{}

func (t *IntType) Name() string { return "int" }

func (t *IntType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return nil
	case float64:
		// JSON bodies decode numbers as float64
		if v == float64(int64(v)) {
			return nil
		}
		return fmt.Errorf("expected int, got float (not a whole number)")
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

// FloatType validates floating-point values.
type FloatType struct{}

func (t *FloatType) Name() string { return "float" }

func (t *FloatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64:
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

// BoolType validates boolean values.
type BoolType struct{}

func (t *BoolType) Name() string { return "bool" }

func (t *BoolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

// DateType validates calendar dates written as YYYY-MM-DD.
type DateType struct{}

func (t *DateType) Name() string { return "date" }

func (t *DateType) Validate(value any) error {
	switch v := value.(type) {
	case time.Time:
		return nil
	case string:
		if _, err := time.Parse(DateLayout, v); err != nil {
			return fmt.Errorf("expected date (YYYY-MM-DD), got %q", v)
		}
		return nil
	default:
		return fmt.Errorf("expected date, got %T", value)
	}
}

// SliceType validates slices of a specific element type.
type SliceType struct {
	elemType Type
}

func (t *SliceType) Name() string {
	return fmt.Sprintf("[%s]", t.elemType.Name())
}

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Errorf("expected slice, got %T", value)
	}

	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if err := t.elemType.Validate(elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// OneOfType accepts one of a closed set of string values (choice steps).
type OneOfType struct {
	options []string
}

func (t *OneOfType) Name() string {
	return "one_of(" + strings.Join(t.options, "|") + ")"
}

func (t *OneOfType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected one of %v, got %T", t.options, value)
	}
	for _, o := range t.options {
		if o == s {
			return nil
		}
	}
	return fmt.Errorf("expected one of %v, got %q", t.options, s)
}

// CustomType applies a user-defined validation function.
type CustomType struct {
	name     string
	validate func(any) error
}

func (t *CustomType) Name() string { return t.name }

func (t *CustomType) Validate(value any) error {
	return t.validate(value)
}

// String creates a string type validator.
func String() Type { return &StringType{} }

// Text creates a non-blank string type validator.
func Text() Type { return &TextType{} }

// Int creates an integer type validator.
func Int() Type { return &IntType{} }

// Float creates a float type validator.
func Float() Type { return &FloatType{} }

// Bool creates a boolean type validator.
func Bool() Type { return &BoolType{} }

// Date creates a YYYY-MM-DD date validator.
func Date() Type { return &DateType{} }

// Slice creates a slice type validator for elements of the given type.
func Slice(elemType Type) Type {
	return &SliceType{elemType: elemType}
}

// OneOf creates a validator accepting only the given options.
func OneOf(options ...string) Type {
	return &OneOfType{options: append([]string(nil), options...)}
}

// Custom creates a custom type validator with a user-defined function.
func Custom(name string, validate func(any) error) Type {
	return &CustomType{name: name, validate: validate}
}

// ParseType converts a type name to a Type.
// Supports "string", "text", "int", "float", "bool", "date", "[elem]" and
// "one_of(a|b|c)".
func ParseType(typeStr string) (Type, error) {
	typeStr = strings.TrimSpace(typeStr)

	if len(typeStr) > 2 && typeStr[0] == '[' && typeStr[len(typeStr)-1] == ']' {
		elemType, err := ParseType(typeStr[1 : len(typeStr)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elemType), nil
	}

	if strings.HasPrefix(typeStr, "one_of(") && strings.HasSuffix(typeStr, ")") {
		inner := strings.TrimSuffix(strings.TrimPrefix(typeStr, "one_of("), ")")
		if inner == "" {
			return nil, fmt.Errorf("one_of requires at least one option")
		}
		return OneOf(strings.Split(inner, "|")...), nil
	}

	switch typeStr {
	case "string":
		return String(), nil
	case "text":
		return Text(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "date":
		return Date(), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", typeStr)
	}
}

// ParseTypeMap converts a map of field names to type strings into a Schema.
// Example: {"first_name": "text", "year_group": "int"}
func ParseTypeMap(typeMap map[string]string) (Schema, error) {
	result := make(Schema)
	for key, typeStr := range typeMap {
		t, err := ParseType(typeStr)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		result[key] = t
	}
	return result, nil
}
