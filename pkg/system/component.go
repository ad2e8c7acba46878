package system

import "context"

// Component is a named unit of the composed system with a start/stop
// lifecycle. Start and Stop return the post-transition value of the
// component, which replaces the stored one; returning the receiver is
// fine for components that manage their state internally.
//
// Start and Stop must only touch the component itself, never its
// siblings. Idempotence for already-correct states is the component's
// own concern; the supervisor calls each hook exactly once per
// transition.
type Component interface {
	// Start brings the component up and returns its running form.
	Start(ctx context.Context) (Component, error)

	// Stop brings the component down and returns its stopped form.
	Stop(ctx context.Context) (Component, error)
}

// Funcs adapts plain start/stop functions into a Component. Nil
// functions are treated as no-ops. The adapter returns itself from both
// hooks, so it suits components whose state lives behind the closures.
type Funcs struct {
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
}

// Start implements Component.
func (f Funcs) Start(ctx context.Context) (Component, error) {
	if f.StartFunc != nil {
		if err := f.StartFunc(ctx); err != nil {
			return f, err
		}
	}
	return f, nil
}

// Stop implements Component.
func (f Funcs) Stop(ctx context.Context) (Component, error) {
	if f.StopFunc != nil {
		if err := f.StopFunc(ctx); err != nil {
			return f, err
		}
	}
	return f, nil
}
