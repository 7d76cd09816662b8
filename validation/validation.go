// Package validation provides named rule sets used by tables to validate
// entities before they are saved.
//
// A Validator holds, per field, an ordered list of named rules and the
// presence and emptiness requirements of the field:
//
//	v := validation.New().
//		RequirePresence("title", validation.OnCreate).
//		Add("title", "length", validation.MinLen(3)).
//		Add("body", "notEmpty", validation.NotEmpty()).
//		AllowEmpty("summary", validation.Always)
package validation

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/syssam/tabula/entity"
)

// Default error messages.
const (
	MessageRequired = "This field is required"
	MessageEmpty    = "This field cannot be left empty"
)

// Mode selects the kind of save a requirement or rule applies to.
type Mode int

// Modes.
const (
	Never Mode = iota
	Always
	OnCreate
	OnUpdate
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Always:
		return "always"
	case OnCreate:
		return "create"
	case OnUpdate:
		return "update"
	default:
		return "never"
	}
}

func (m Mode) applies(isNew bool) bool {
	switch m {
	case Always:
		return true
	case OnCreate:
		return isNew
	case OnUpdate:
		return !isNew
	default:
		return false
	}
}

// Context is passed to rules together with the value under validation.
type Context struct {
	context.Context
	// Field is the name of the validated field.
	Field string
	// Data holds all the data under validation.
	Data map[string]any
	// NewRecord reports if the data belongs to a record being created.
	NewRecord bool

	providers map[string]any
}

// Provider returns the named provider, e.g. "table" or "entity".
func (c *Context) Provider(name string) (any, bool) {
	p, ok := c.providers[name]
	return p, ok
}

// Rule checks a single value. A non-nil error fails the rule, and its
// message is recorded unless the rule was added with a Message option.
type Rule func(v any, c *Context) error

// RuleOption configures a rule added to a validator.
type RuleOption func(*rule)

// On limits the rule to the given mode. Rules apply Always by default.
func On(m Mode) RuleOption {
	return func(r *rule) { r.on = m }
}

// Message overrides the error message of the rule.
func Message(msg string) RuleOption {
	return func(r *rule) { r.message = msg }
}

// Last stops the evaluation of the remaining rules of the field when this
// rule fails.
func Last() RuleOption {
	return func(r *rule) { r.last = true }
}

type rule struct {
	name    string
	fn      Rule
	on      Mode
	message string
	last    bool
}

type fieldSet struct {
	name       string
	rules      []*rule
	presence   Mode
	allowEmpty Mode
}

// Validator is a set of field rules. Configure a validator before sharing
// it; validating is safe for concurrent use.
type Validator struct {
	mu        sync.RWMutex
	fields    []*fieldSet
	providers map[string]any
}

// New returns an empty validator.
func New() *Validator {
	return &Validator{providers: make(map[string]any)}
}

func (v *Validator) field(name string) *fieldSet {
	for _, f := range v.fields {
		if f.name == name {
			return f
		}
	}
	f := &fieldSet{name: name}
	v.fields = append(v.fields, f)
	return f
}

// Add appends a named rule to field. Adding a rule with a name already used
// by the field replaces it.
func (v *Validator) Add(field, name string, fn Rule, opts ...RuleOption) *Validator {
	r := &rule{name: name, fn: fn, on: Always}
	for _, opt := range opts {
		opt(r)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	f := v.field(field)
	if i := slices.IndexFunc(f.rules, func(x *rule) bool { return x.name == name }); i >= 0 {
		f.rules[i] = r
		return v
	}
	f.rules = append(f.rules, r)
	return v
}

// Remove removes the named rule of field. Without a name, the whole field is
// removed.
func (v *Validator) Remove(field string, name ...string) *Validator {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(name) == 0 {
		v.fields = slices.DeleteFunc(v.fields, func(f *fieldSet) bool { return f.name == field })
		return v
	}
	for _, f := range v.fields {
		if f.name == field {
			f.rules = slices.DeleteFunc(f.rules, func(r *rule) bool { return slices.Contains(name, r.name) })
		}
	}
	return v
}

// RequirePresence requires field to be part of the data in the given mode.
func (v *Validator) RequirePresence(field string, mode Mode) *Validator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.field(field).presence = mode
	return v
}

// AllowEmpty allows field to hold an empty value in the given mode. Empty
// values skip the rules of the field.
func (v *Validator) AllowEmpty(field string, mode Mode) *Validator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.field(field).allowEmpty = mode
	return v
}

// Provider registers an object passed to rules under name.
func (v *Validator) Provider(name string, p any) *Validator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.providers[name] = p
	return v
}

// ProviderFor returns the provider registered under name.
func (v *Validator) ProviderFor(name string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.providers[name]
	return p, ok
}

// Len returns the number of configured fields.
func (v *Validator) Len() int {
	if v == nil {
		return 0
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.fields)
}

// Fields returns the configured field names in configuration order.
func (v *Validator) Fields() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, len(v.fields))
	for i, f := range v.fields {
		names[i] = f.name
	}
	return names
}

// Errors validates data and returns the error messages per field. The map is
// empty when data is valid.
func (v *Validator) Errors(data map[string]any, isNew bool) map[string][]string {
	return v.errors(context.Background(), data, isNew, nil)
}

// Validate validates the properties of e and records the errors on it. The
// "entity" provider is set to e for the duration of the call and providers
// given in extra override the registered ones. It reports whether e is
// valid.
func (v *Validator) Validate(ctx context.Context, e *entity.Entity, extra map[string]any) bool {
	providers := map[string]any{"entity": e}
	for name, p := range extra {
		providers[name] = p
	}
	errs := v.errors(ctx, e.ToMap(), e.Newness() != entity.NewnessPersisted, providers)
	e.SetErrors(errs)
	return len(errs) == 0
}

func (v *Validator) errors(ctx context.Context, data map[string]any, isNew bool, extra map[string]any) map[string][]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	providers := make(map[string]any, len(v.providers)+len(extra))
	for name, p := range v.providers {
		providers[name] = p
	}
	for name, p := range extra {
		providers[name] = p
	}
	errs := make(map[string][]string)
	for _, f := range v.fields {
		value, ok := data[f.name]
		if !ok {
			if f.presence.applies(isNew) {
				errs[f.name] = append(errs[f.name], MessageRequired)
			}
			continue
		}
		if IsEmpty(value) {
			if !f.allowEmpty.applies(isNew) {
				errs[f.name] = append(errs[f.name], MessageEmpty)
			}
			continue
		}
		c := &Context{Context: ctx, Field: f.name, Data: data, NewRecord: isNew, providers: providers}
		for _, r := range f.rules {
			if !r.on.applies(isNew) {
				continue
			}
			err := r.fn(value, c)
			if err == nil {
				continue
			}
			msg := r.message
			if msg == "" {
				msg = err.Error()
			}
			errs[f.name] = append(errs[f.name], msg)
			if r.last {
				break
			}
		}
	}
	return errs
}

// IsEmpty reports if v is nil, an empty string, or an empty slice or map.
// Zero numbers and false are not empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch v := v.(type) {
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// ValidationError describes a failed field rule. Rules may return it to
// carry the rule name along with the message.
type ValidationError struct {
	Rule string
	Msg  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Msg
}

func invalid(rule, format string, args ...any) error {
	return &ValidationError{Rule: rule, Msg: fmt.Sprintf(format, args...)}
}
