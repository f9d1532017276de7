package llm

import (
	"errors"
	"fmt"
)

// ErrSchemaViolation indicates a response failed structured-output
// validation. It is a hard error: the adapter never repairs or retries a
// malformed-but-delivered response.
var ErrSchemaViolation = errors.New("schema violation")

// FieldType enumerates the value types a schema field may declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldArray  FieldType = "array"
	FieldObject FieldType = "object"
)

// Field constrains one schema field.
type Field struct {
	Type FieldType
	Enum []string
	Min  *float64
	Max  *float64
}

// Schema describes the record an LLM response must parse into.
type Schema struct {
	Name     string
	Fields   map[string]Field
	Required []string
}

// Bounded is a convenience for Min/Max pointers.
func Bounded(min, max float64) (*float64, *float64) {
	return &min, &max
}

// Validate checks a parsed response against the schema. Unknown fields
// pass through; missing required fields, wrong types, out-of-range numbers,
// and out-of-enum strings all fail with ErrSchemaViolation.
func (s *Schema) Validate(data map[string]any) error {
	for _, name := range s.Required {
		if _, ok := data[name]; !ok {
			return fmt.Errorf("%w: missing required field %q", ErrSchemaViolation, name)
		}
	}

	for name, field := range s.Fields {
		value, ok := data[name]
		if !ok {
			continue
		}
		if err := field.check(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (f Field) check(name string, value any) error {
	switch f.Type {
	case FieldString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: field %q is not a string", ErrSchemaViolation, name)
		}
		if len(f.Enum) > 0 && !inEnum(f.Enum, s) {
			return fmt.Errorf("%w: field %q value %q not in %v", ErrSchemaViolation, name, s, f.Enum)
		}
	case FieldNumber:
		n, ok := asNumber(value)
		if !ok {
			return fmt.Errorf("%w: field %q is not a number", ErrSchemaViolation, name)
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Errorf("%w: field %q value %v below %v", ErrSchemaViolation, name, n, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Errorf("%w: field %q value %v above %v", ErrSchemaViolation, name, n, *f.Max)
		}
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: field %q is not a bool", ErrSchemaViolation, name)
		}
	case FieldArray:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("%w: field %q is not an array", ErrSchemaViolation, name)
		}
	case FieldObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("%w: field %q is not an object", ErrSchemaViolation, name)
		}
	}
	return nil
}

func inEnum(enum []string, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
