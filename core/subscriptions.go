package core

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Subscriber is anything that can be re-run when an object it read changes:
// a component host (*NodeContext) or an effect descriptor (*Watch).
type Subscriber interface {
	isSubscriber()
}

// SubscriptionRecord is one subscriber of a target object. Keys lists the
// properties read; nil means the whole object.
type SubscriptionRecord struct {
	Sub  Subscriber
	Keys []string
}

type subscription struct {
	sub  Subscriber
	keys mapset.Set[string]
}

// LocalSubs is the subscriber set of a single target object, in registration order.
type LocalSubs struct {
	target  any
	entries []*subscription
}

func (l *LocalSubs) Target() any {
	return l.target
}

func (l *LocalSubs) Len() int {
	return len(l.entries)
}

func (l *LocalSubs) Subscribers() []Subscriber {
	subs := make([]Subscriber, len(l.entries))
	for i, e := range l.entries {
		subs[i] = e.sub
	}
	return subs
}

func (l *LocalSubs) Records() []SubscriptionRecord {
	records := make([]SubscriptionRecord, len(l.entries))
	for i, e := range l.entries {
		records[i].Sub = e.sub
		if e.keys != nil {
			keys := e.keys.ToSlice()
			slices.Sort(keys)
			records[i].Keys = keys
		}
	}
	return records
}

func (l *LocalSubs) Has(sub Subscriber) bool {
	return l.find(sub) != nil
}

func (l *LocalSubs) find(sub Subscriber) *subscription {
	for _, e := range l.entries {
		if e.sub == sub {
			return e
		}
	}
	return nil
}

// add registers sub for key; an empty key subscribes to the whole object.
func (l *LocalSubs) add(sub Subscriber, key string) bool {
	e := l.find(sub)
	isNew := e == nil
	if isNew {
		e = &subscription{sub: sub, keys: mapset.NewThreadUnsafeSet[string]()}
		l.entries = append(l.entries, e)
	}
	if key == "" {
		e.keys = nil
	} else if e.keys != nil {
		e.keys.Add(key)
	}
	return isNew
}

func (l *LocalSubs) remove(sub Subscriber) {
	l.entries = slices.DeleteFunc(l.entries, func(e *subscription) bool {
		return e.sub == sub
	})
}

// affected lists the subscribers interested in key; an empty key means every property changed.
func (l *LocalSubs) affected(key string) []Subscriber {
	var subs []Subscriber
	for _, e := range l.entries {
		if key == "" || e.keys == nil || e.keys.Contains(key) {
			subs = append(subs, e.sub)
		}
	}
	return subs
}

// SubscriptionManager indexes subscribers by target object and targets by subscriber.
type SubscriptionManager struct {
	locals map[any]*LocalSubs
	bySub  map[Subscriber]mapset.Set[*LocalSubs]
}

func newSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{
		locals: map[any]*LocalSubs{},
		bySub:  map[Subscriber]mapset.Set[*LocalSubs]{},
	}
}

func (m *SubscriptionManager) TryGetLocal(target any) *LocalSubs {
	if !Hashable(target) {
		return nil
	}
	return m.locals[target]
}

func (m *SubscriptionManager) GetLocal(target any) *LocalSubs {
	l, ok := m.locals[target]
	if !ok {
		l = &LocalSubs{target: target}
		m.locals[target] = l
	}
	return l
}

func (m *SubscriptionManager) Add(target any, sub Subscriber, key string) {
	l := m.GetLocal(target)
	if l.add(sub, key) {
		set, ok := m.bySub[sub]
		if !ok {
			set = mapset.NewThreadUnsafeSet[*LocalSubs]()
			m.bySub[sub] = set
		}
		set.Add(l)
	}
}

// Populate installs pre-decoded subscriptions for target, replacing nothing already present.
func (m *SubscriptionManager) Populate(target any, records []SubscriptionRecord) {
	for _, r := range records {
		if r.Keys == nil {
			m.Add(target, r.Sub, "")
			continue
		}
		for _, k := range r.Keys {
			m.Add(target, r.Sub, k)
		}
	}
}

// ClearSub drops every subscription held by sub.
func (m *SubscriptionManager) ClearSub(sub Subscriber) {
	set, ok := m.bySub[sub]
	if !ok {
		return
	}
	for l := range set.Iter() {
		l.remove(sub)
	}
	delete(m.bySub, sub)
}
