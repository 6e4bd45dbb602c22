package providers

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateParams checks a binding's params map against a list of ParamSpecs.
// Required parameters must be present, values must match their declared type,
// and any Rule is applied with the validator engine. Unknown keys are
// rejected so typos in a binding surface at save time rather than at tick
// time.
func ValidateParams(specs []ParamSpec, params map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	known := make(map[string]bool, len(specs))
	for _, spec := range specs {
		known[spec.Name] = true

		value, present := params[spec.Name]
		if !present {
			if spec.Required {
				result.addError(fmt.Sprintf("missing required parameter %q", spec.Name))
			}
			continue
		}

		coerced, err := coerceType(value, spec.Type)
		if err != nil {
			result.addError(fmt.Sprintf("parameter %q: %v", spec.Name, err))
			continue
		}

		if spec.Rule != "" {
			if err := validate.Var(coerced, spec.Rule); err != nil {
				result.addError(fmt.Sprintf("parameter %q violates rule %q", spec.Name, spec.Rule))
			}
		}
	}

	for key := range params {
		if !known[key] {
			result.addError(fmt.Sprintf("unknown parameter %q", key))
		}
	}

	return result
}

func (r *ValidationResult) addError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

// coerceType verifies a param value against its declared type and normalizes
// it. JSON decoding hands numbers over as float64, so "int" accepts a float64
// with no fractional part.
func coerceType(value interface{}, typ string) (interface{}, error) {
	switch typ {
	case "string":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil
	case "int":
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected int, got fractional number %v", v)
			}
			return int64(v), nil
		default:
			return nil, fmt.Errorf("expected int, got %T", value)
		}
	case "float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		default:
			return nil, fmt.Errorf("expected float, got %T", value)
		}
	case "bool":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", typ)
	}
}

// StringParam reads a string parameter from a binding's params map, returning
// fallback when absent.
func StringParam(params map[string]interface{}, name, fallback string) string {
	if v, ok := params[name].(string); ok {
		return v
	}
	return fallback
}

// IntParam reads an integer parameter, accepting JSON's float64 encoding.
func IntParam(params map[string]interface{}, name string, fallback int64) int64 {
	switch v := params[name].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return fallback
	}
}
