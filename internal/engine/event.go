package engine

// EventKind discriminates in-process events.
type EventKind string

// Event is an in-process notification routed through Service.DoOn.
type Event interface {
	EventKind() EventKind
}

type EventHandler func(ev Event)

// On registers h for events of kind. It takes precedence over OnAny.
func (b *BaseService) On(kind EventKind, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[EventKind]EventHandler)
	}
	b.events[kind] = h
	b.resolved = nil
}

// OnAny registers the fallback for kinds without a specific handler.
func (b *BaseService) OnAny(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generic = h
	b.resolved = nil
}

// DoOn runs the handler for ev's kind and reports whether one existed.
// The resolution per kind, including "none", is cached until the tables
// change.
func (b *BaseService) DoOn(ev Event) bool {
	h := b.resolve(ev.EventKind())
	if h == nil {
		return false
	}
	h(ev)
	return true
}

func (b *BaseService) resolve(kind EventKind) EventHandler {
	b.mu.RLock()
	h, ok := b.resolved[kind]
	b.mu.RUnlock()
	if ok {
		return h
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.resolved[kind]; ok {
		return h
	}
	h = b.events[kind]
	if h == nil {
		h = b.generic
	}
	if b.resolved == nil {
		b.resolved = make(map[EventKind]EventHandler)
	}
	b.resolved[kind] = h
	return h
}

// OnEvent registers a typed handler. E's EventKind must not depend on the
// receiver's value, since it is read from the zero E.
func OnEvent[E Event](b *BaseService, fn func(E)) {
	var zero E
	b.On(zero.EventKind(), func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}
