package transport

import (
	"sync"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// Observer sets hold registered callbacks keyed by a registration id, so
// removing one returns the set to its prior state. No ordering is guaranteed
// between independently registered handlers.

type stateObservers struct {
	mu   sync.Mutex
	next int
	set  map[int]func(State)
}

func (o *stateObservers) add(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set == nil {
		o.set = make(map[int]func(State))
	}
	id := o.next
	o.next++
	o.set[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.set, id)
	}
}

func (o *stateObservers) emit(s State) {
	o.mu.Lock()
	fns := make([]func(State), 0, len(o.set))
	for _, fn := range o.set {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

type messageObservers struct {
	mu   sync.Mutex
	next int
	set  map[int]func(wire.Envelope)
}

func (o *messageObservers) add(fn func(wire.Envelope)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set == nil {
		o.set = make(map[int]func(wire.Envelope))
	}
	id := o.next
	o.next++
	o.set[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.set, id)
	}
}

func (o *messageObservers) emit(env wire.Envelope) {
	o.mu.Lock()
	fns := make([]func(wire.Envelope), 0, len(o.set))
	for _, fn := range o.set {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

type errorObservers struct {
	mu   sync.Mutex
	next int
	set  map[int]func(error)
}

func (o *errorObservers) add(fn func(error)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set == nil {
		o.set = make(map[int]func(error))
	}
	id := o.next
	o.next++
	o.set[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.set, id)
	}
}

func (o *errorObservers) emit(err error) {
	o.mu.Lock()
	fns := make([]func(error), 0, len(o.set))
	for _, fn := range o.set {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
