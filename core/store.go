package core

import (
	"fmt"
	"strconv"
)

type StoreFlags uint8

const (
	// FlagRecursive makes nested records and lists come back wrapped when read.
	FlagRecursive StoreFlags = 1 << iota
	// FlagImmutable rejects every write.
	FlagImmutable
)

// Store is the reactive wrapper around a *Record or *List target. Reads made
// while a subscriber is active subscribe it to the target; writes notify the
// target's subscribers through the scheduler. At most one store exists per
// target per container.
type Store struct {
	c      *Container
	target any
	flags  StoreFlags
}

func (s *Store) Target() any           { return s.target }
func (s *Store) Flags() StoreFlags     { return s.flags }
func (s *Store) Container() *Container { return s.c }

func (s *Store) String() string {
	return fmt.Sprintf("store(%T)", s.target)
}

func (s *Store) record() *Record {
	r, ok := s.target.(*Record)
	if !ok {
		panic(fmt.Sprintf("store target is %T, not *Record", s.target))
	}
	return r
}

func (s *Store) list() *List {
	l, ok := s.target.(*List)
	if !ok {
		panic(fmt.Sprintf("store target is %T, not *List", s.target))
	}
	return l
}

func (s *Store) wrap(v any) any {
	if m, ok := v.(*Mutable); ok {
		v = m.V
	}
	if s.flags&FlagRecursive != 0 && isCollection(v) {
		return s.c.GetOrCreateProxy(v, s.flags)
	}
	return v
}

// Get reads a record field, subscribing the active subscriber to key.
func (s *Store) Get(key string) any {
	v, ok := s.record().Get(key)
	s.c.track(s.target, key)
	if !ok {
		return Undefined
	}
	return s.wrap(v)
}

// Peek reads a record field without subscribing.
func (s *Store) Peek(key string) any {
	v, ok := s.record().Get(key)
	if !ok {
		return Undefined
	}
	return s.wrap(v)
}

func (s *Store) Keys() []string {
	s.c.track(s.target, "")
	return s.record().Keys()
}

// Set writes a record field. Writing an identical value is a no-op.
func (s *Store) Set(key string, v any) error {
	if s.flags&FlagImmutable != 0 {
		return NewError(CodeImmutableProp, "set", key, nil)
	}
	if inner, ok := v.(*Store); ok {
		v = inner.target
	}
	r := s.record()
	old, had := r.Get(key)
	if had && Identical(old, v) {
		return nil
	}
	if m, ok := old.(*Mutable); ok && Identical(m.V, v) {
		// same visible value: only the mutable marker is dropped
		r.Set(key, v)
		return nil
	}
	r.Set(key, v)
	s.c.notifyTarget(s.target, key)
	return nil
}

func (s *Store) Delete(key string) error {
	if s.flags&FlagImmutable != 0 {
		return NewError(CodeImmutableProp, "delete", key, nil)
	}
	r := s.record()
	if _, had := r.Get(key); !had {
		return nil
	}
	r.Delete(key)
	s.c.notifyTarget(s.target, key)
	return nil
}

func (s *Store) Len() int {
	s.c.track(s.target, "")
	switch t := s.target.(type) {
	case *List:
		return t.Len()
	case *Record:
		return t.Len()
	}
	return 0
}

// At reads a list element, subscribing the active subscriber to the whole list.
func (s *Store) At(i int) any {
	s.c.track(s.target, "")
	return s.wrap(s.list().At(i))
}

func (s *Store) SetAt(i int, v any) error {
	if s.flags&FlagImmutable != 0 {
		return NewError(CodeImmutableProp, "set", strconv.Itoa(i), nil)
	}
	if inner, ok := v.(*Store); ok {
		v = inner.target
	}
	l := s.list()
	if Identical(l.At(i), v) {
		return nil
	}
	l.set(i, v)
	s.c.notifyTarget(s.target, "")
	return nil
}

func (s *Store) Append(vs ...any) error {
	if s.flags&FlagImmutable != 0 {
		return NewError(CodeImmutableProp, "append", nil, nil)
	}
	for i, v := range vs {
		if inner, ok := v.(*Store); ok {
			vs[i] = inner.target
		}
	}
	s.list().Append(vs...)
	s.c.notifyTarget(s.target, "")
	return nil
}
