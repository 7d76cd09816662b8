package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/syssam/tabula/entity"
)

// NotEmpty fails on empty strings, slices and maps.
func NotEmpty() Rule {
	return func(v any, _ *Context) error {
		if IsEmpty(v) {
			return invalid("notEmpty", "value must not be empty")
		}
		return nil
	}
}

// MinLen fails on strings with less than n characters.
func MinLen(n int) Rule {
	return func(v any, _ *Context) error {
		l, ok := length(v)
		if !ok {
			return invalid("minLen", "value is not a string")
		}
		if l < n {
			return invalid("minLen", "value is less than the required length %d", n)
		}
		return nil
	}
}

// MaxLen fails on strings with more than n characters.
func MaxLen(n int) Rule {
	return func(v any, _ *Context) error {
		l, ok := length(v)
		if !ok {
			return invalid("maxLen", "value is not a string")
		}
		if l > n {
			return invalid("maxLen", "value is greater than the required length %d", n)
		}
		return nil
	}
}

// Match fails on strings not matching re.
func Match(re *regexp.Regexp) Rule {
	return func(v any, _ *Context) error {
		s, ok := toString(v)
		if !ok || !re.MatchString(s) {
			return invalid("match", "value does not match validation")
		}
		return nil
	}
}

// In fails on values not equal to one of values. Numbers of different types
// are compared by value.
func In(values ...any) Rule {
	return func(v any, _ *Context) error {
		for _, x := range values {
			if equal(v, x) {
				return nil
			}
		}
		return invalid("inList", "value is not in the list of allowed values")
	}
}

// Range fails on numbers outside [min, max].
func Range(min, max float64) Rule {
	return func(v any, _ *Context) error {
		f, ok := toFloat(v)
		if !ok {
			return invalid("range", "value is not a number")
		}
		if f < min || f > max {
			return invalid("range", "value out of range [%v, %v]", min, max)
		}
		return nil
	}
}

// NonNegative fails on negative numbers.
func NonNegative() Rule {
	return func(v any, _ *Context) error {
		f, ok := toFloat(v)
		if !ok {
			return invalid("nonNegative", "value is not a number")
		}
		if f < 0 {
			return invalid("nonNegative", "value must not be negative")
		}
		return nil
	}
}

// Positive fails on numbers less than or equal to zero.
func Positive() Rule {
	return func(v any, _ *Context) error {
		f, ok := toFloat(v)
		if !ok {
			return invalid("positive", "value is not a number")
		}
		if f <= 0 {
			return invalid("positive", "value must be positive")
		}
		return nil
	}
}

// Func adapts a predicate into a rule failing with msg.
//
//	v.Add("slug", "lower", validation.Func(func(v any) bool {
//		s, _ := v.(string)
//		return s == strings.ToLower(s)
//	}, "slug must be lowercase"))
func Func(fn func(any) bool, msg string) Rule {
	return func(v any, _ *Context) error {
		if !fn(v) {
			return errors.New(msg)
		}
		return nil
	}
}

// UniqueChecker is implemented by the "table" provider to support Unique.
type UniqueChecker interface {
	IsUnique(ctx context.Context, e *entity.Entity, fields ...string) (bool, error)
}

// Unique fails when another row already holds the value of the field,
// optionally scoped by other fields of the entity. It requires the "table"
// provider to implement UniqueChecker and the "entity" provider to be set.
func Unique(scope ...string) Rule {
	return func(_ any, c *Context) error {
		p, ok := c.Provider("table")
		if !ok {
			return invalid("unique", "no table provider")
		}
		checker, ok := p.(UniqueChecker)
		if !ok {
			return invalid("unique", "table provider %T cannot check uniqueness", p)
		}
		p, _ = c.Provider("entity")
		e, ok := p.(*entity.Entity)
		if !ok {
			return invalid("unique", "no entity provider")
		}
		unique, err := checker.IsUnique(c, e, append([]string{c.Field}, scope...)...)
		if err != nil {
			return err
		}
		if !unique {
			return invalid("unique", "value is already in use")
		}
		return nil
	}
}

func length(v any) (int, bool) {
	switch v := v.(type) {
	case string:
		return utf8.RuneCountInString(v), true
	case []byte:
		return len(v), true
	case fmt.Stringer:
		return utf8.RuneCountInString(v.String()), true
	}
	return 0, false
}

func toString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toNumber(a); ok {
		if fb, ok := toNumber(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// toNumber is toFloat without string parsing.
func toNumber(v any) (float64, bool) {
	if _, ok := v.(string); ok {
		return 0, false
	}
	return toFloat(v)
}
