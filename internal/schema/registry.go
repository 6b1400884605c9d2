package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/trobanga/rythmiq/internal/models"
)

// Registry resolves the transform and validator names used in schema definitions
type Registry struct {
	transforms map[string]models.TransformFunc
	validators map[string]models.ValidateFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		transforms: map[string]models.TransformFunc{},
		validators: map[string]models.ValidateFunc{},
	}
}

// DefaultRegistry returns a registry holding the built-in transforms and validators
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterTransform("first", func(values []string) (any, error) { return values[0], nil })
	r.RegisterTransform("last", func(values []string) (any, error) { return values[len(values)-1], nil })
	r.RegisterTransform("join", joinWith(" "))
	r.RegisterTransform("join_comma", joinWith(", "))
	r.RegisterTransform("concat", joinWith(""))
	r.RegisterTransform("upper", mapJoined(strings.ToUpper))
	r.RegisterTransform("lower", mapJoined(strings.ToLower))
	r.RegisterTransform("trim", mapJoined(strings.TrimSpace))
	r.RegisterTransform("amount", parseAmount)
	r.RegisterTransform("digits", keepDigits)

	r.RegisterValidator("non_empty", func(v any) (bool, error) {
		return strings.TrimSpace(fmt.Sprint(v)) != "", nil
	})
	r.RegisterValidator("iso_date", func(v any) (bool, error) {
		_, err := time.Parse("2006-01-02", fmt.Sprint(v))
		return err == nil, nil
	})
	r.RegisterValidator("decimal", func(v any) (bool, error) {
		_, err := strconv.ParseFloat(fmt.Sprint(v), 64)
		return err == nil, nil
	})

	return r
}

// RegisterTransform adds or replaces a named transform
func (r *Registry) RegisterTransform(name string, fn models.TransformFunc) {
	r.transforms[name] = fn
}

// RegisterValidator adds or replaces a named validator
func (r *Registry) RegisterValidator(name string, fn models.ValidateFunc) {
	r.validators[name] = fn
}

// Transform looks up a transform by name
func (r *Registry) Transform(name string) (models.TransformFunc, bool) {
	fn, ok := r.transforms[name]
	return fn, ok
}

// Validator looks up a validator by name
func (r *Registry) Validator(name string) (models.ValidateFunc, bool) {
	fn, ok := r.validators[name]
	return fn, ok
}

// TransformNames lists the registered transforms in sorted order
func (r *Registry) TransformNames() []string {
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinWith(sep string) models.TransformFunc {
	return func(values []string) (any, error) {
		return strings.Join(values, sep), nil
	}
}

func mapJoined(fn func(string) string) models.TransformFunc {
	return func(values []string) (any, error) {
		return fn(strings.Join(values, " ")), nil
	}
}

var amountPattern = regexp.MustCompile(`-?\d[\d,]*(\.\d+)?`)

// parseAmount pulls the first number out of the first value that has one,
// dropping currency symbols and thousands separators: "$1,234.50" -> "1234.50"
func parseAmount(values []string) (any, error) {
	for _, v := range values {
		m := amountPattern.FindString(v)
		if m == "" {
			continue
		}
		m = strings.ReplaceAll(m, ",", "")
		if _, err := strconv.ParseFloat(m, 64); err != nil {
			return nil, fmt.Errorf("invalid amount %q", v)
		}
		return m, nil
	}
	return nil, errors.New("no amount found")
}

// keepDigits concatenates the digits of all values
func keepDigits(values []string) (any, error) {
	var sb strings.Builder
	for _, v := range values {
		for _, r := range v {
			if unicode.IsDigit(r) {
				sb.WriteRune(r)
			}
		}
	}
	if sb.Len() == 0 {
		return nil, errors.New("no digits found")
	}
	return sb.String(), nil
}
