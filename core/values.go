package core

import (
	"reflect"
	"slices"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined is the explicit "no value" placeholder.
var Undefined any = undefined{}

func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// NoSerializeValue marks a value that must never be written to a snapshot.
// It is checkpointed as Undefined.
type NoSerializeValue struct {
	V any
}

func NoSerialize(v any) *NoSerializeValue {
	return &NoSerializeValue{V: v}
}

// Mutable boxes a value passed as a component prop so the host re-reads it
// on every render instead of capturing it once.
type Mutable struct {
	V any
}

func NewMutable(v any) *Mutable {
	return &Mutable{V: v}
}

// List is a plain ordered collection with reference identity.
type List struct {
	items []any
}

func NewList(items ...any) *List {
	return &List{items: items}
}

func (l *List) Len() int {
	return len(l.items)
}

func (l *List) At(i int) any {
	return l.items[i]
}

func (l *List) Items() []any {
	return l.items
}

func (l *List) set(i int, v any) {
	l.items[i] = v
}

func (l *List) Append(vs ...any) {
	l.items = append(l.items, vs...)
}

// Record is a plain collection of named fields that remembers insertion order.
type Record struct {
	keys   []string
	values map[string]any
}

func NewRecord(kv ...any) *Record {
	r := &Record{values: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Record) Set(key string, v any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r *Record) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	r.keys = slices.DeleteFunc(r.keys, func(k string) bool { return k == key })
}

func (r *Record) Keys() []string {
	return r.keys
}

func (r *Record) Len() int {
	return len(r.keys)
}

// Hashable reports whether v can be used as an identity key.
func Hashable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

// Identical compares by identity for references and by value for primitives.
func Identical(a, b any) bool {
	if !Hashable(a) || !Hashable(b) {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	defer func() { _ = recover() }()
	return a == b
}

func isCollection(v any) bool {
	switch v.(type) {
	case *Record, *List:
		return true
	}
	return false
}
