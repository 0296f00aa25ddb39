// Package schema implements validation and coercion of being data against a
// genotype's declared attributes. Raw values are coerced to their declared
// type tag (numeric strings to numbers, "true"/"false" to booleans, typed
// lists element-wise), defaults are applied, required fields enforced and
// unknown keys rejected or dropped according to policy — never silently
// merged into stored structure.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/logging"
)

// Type tags accepted in attribute specs. "list<T>" parameterizes over any
// scalar tag; "any" accepts the raw value unchanged.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeMap     = "map"
	TypeAny     = "any"
)

// ValidationError describes a single field failure with enough detail for
// the caller to repair its input.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Errors aggregates field failures into a single error value for callers
// that need the whole batch.
type Errors []ValidationError

// Error implements the error interface.
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// Options configures coercion behavior.
type Options struct {
	// Strict rejects keys absent from the schema. When false, unknown keys
	// are dropped from the output with a warning log instead.
	Strict bool
	// Logger records dropped keys in non-strict mode. Defaults to NoOp.
	Logger logging.Logger
}

// Coercer validates and coerces data maps against attribute schemas. The
// zero value is not usable; construct with New.
type Coercer struct {
	opts Options
}

// New creates a Coercer. Strict mode defaults to on.
func New(optFns ...func(o *Options)) *Coercer {
	opts := Options{Strict: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Coercer{opts: opts}
}

// Strict reports whether unknown keys are rejected.
func (c *Coercer) Strict() bool { return c.opts.Strict }

// ValidateAndCoerce checks data against attrs and returns the coerced
// output plus any field errors. Output keys are always a subset of schema
// keys plus defaulted keys. A field that fails coercion or is missing while
// required is reported and omitted from the output.
func (c *Coercer) ValidateAndCoerce(data map[string]any, attrs map[string]core.AttributeSpec) (map[string]any, []ValidationError) {
	out := make(map[string]any, len(attrs))
	var errs []ValidationError

	// Deterministic error ordering for callers and tests.
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := attrs[name]
		raw, present := data[name]
		if !present {
			if spec.Default != nil {
				coerced, err := CoerceValue(spec.Default, spec.Type)
				if err != nil {
					errs = append(errs, ValidationError{Field: name, Value: spec.Default, Message: "default: " + err.Error()})
					continue
				}
				out[name] = coerced
			} else if spec.Required {
				errs = append(errs, ValidationError{Field: name, Message: "required field is missing"})
			}
			continue
		}

		coerced, err := CoerceValue(raw, spec.Type)
		if err != nil {
			errs = append(errs, ValidationError{Field: name, Value: raw, Message: err.Error()})
			continue
		}
		if err := checkConstraints(coerced, spec.Constraints); err != nil {
			errs = append(errs, ValidationError{Field: name, Value: raw, Message: err.Error()})
			continue
		}
		out[name] = coerced
	}

	for key := range data {
		if _, known := attrs[key]; known {
			continue
		}
		if c.opts.Strict {
			errs = append(errs, ValidationError{Field: key, Value: data[key], Message: "unknown attribute"})
		} else {
			c.opts.Logger.Warn("dropping unknown attribute", "field", key)
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return out, errs
}

// CoerceValue converts raw to the given type tag. Unknown tags are an error
// so schema typos surface at write time rather than read time.
func CoerceValue(raw any, typeTag string) (any, error) {
	switch {
	case typeTag == "" || typeTag == TypeAny:
		return raw, nil
	case typeTag == TypeString:
		return coerceString(raw)
	case typeTag == TypeInteger:
		return coerceInteger(raw)
	case typeTag == TypeFloat:
		return coerceFloat(raw)
	case typeTag == TypeBoolean:
		return coerceBoolean(raw)
	case typeTag == TypeMap:
		return coerceMap(raw)
	case strings.HasPrefix(typeTag, "list<") && strings.HasSuffix(typeTag, ">"):
		return coerceList(raw, typeTag[len("list<"):len(typeTag)-1])
	case typeTag == "list":
		return coerceList(raw, TypeAny)
	default:
		return nil, fmt.Errorf("unknown type tag %q", typeTag)
	}
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to string", raw)
	}
}

func coerceInteger(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("float %v has a fractional part", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", raw)
	}
}

func coerceFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to float", raw)
	}
}

func coerceBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", v)
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to boolean", raw)
	}
}

// coerceMap accepts a structured map or its JSON text encoding.
func coerceMap(raw any) (any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("string is not a JSON object: %v", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to map", raw)
	}
}

func coerceList(raw any, elemTag string) (any, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case string:
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			return nil, fmt.Errorf("string is not a JSON array: %v", err)
		}
	default:
		return nil, fmt.Errorf("cannot coerce %T to list", raw)
	}
	out := make([]any, len(items))
	for i, item := range items {
		coerced, err := CoerceValue(item, elemTag)
		if err != nil {
			return nil, fmt.Errorf("element %d: %v", i, err)
		}
		out[i] = coerced
	}
	return out, nil
}

// checkConstraints applies the optional constraint map to an
// already-coerced value. Unknown constraint keys are ignored.
func checkConstraints(value any, constraints map[string]any) error {
	if len(constraints) == 0 {
		return nil
	}
	if enum, ok := constraints["enum"].([]any); ok {
		matched := false
		for _, allowed := range enum {
			if equalScalar(value, allowed) {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("value not in enum %v", enum)
		}
	}
	if num, ok := asFloat(value); ok {
		if min, ok := asFloat(constraints["min"]); ok && num < min {
			return fmt.Errorf("value %v below minimum %v", num, min)
		}
		if max, ok := asFloat(constraints["max"]); ok && num > max {
			return fmt.Errorf("value %v above maximum %v", num, max)
		}
	}
	if str, ok := value.(string); ok {
		if minLen, ok := asFloat(constraints["min_length"]); ok && float64(len(str)) < minLen {
			return fmt.Errorf("length %d below minimum %v", len(str), minLen)
		}
		if maxLen, ok := asFloat(constraints["max_length"]); ok && float64(len(str)) > maxLen {
			return fmt.Errorf("length %d above maximum %v", len(str), maxLen)
		}
		if pattern, ok := constraints["pattern"].(string); ok && pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern %q: %v", pattern, err)
			}
			if !re.MatchString(str) {
				return fmt.Errorf("value does not match pattern %q", pattern)
			}
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func equalScalar(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return a == b
}
