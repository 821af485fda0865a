package lifecycle

import "context"

// Handle binds a machine, a stack and an owner into something that can be
// brought up once and torn down once.
type Handle struct {
	Machine *Machine
	Stack   *Stack
	Owner   Owner

	session *Session
}

// Up starts the stack.
func (h *Handle) Up(ctx context.Context) error {
	s, err := h.Machine.Start(ctx, h.Stack, h.Owner)
	if err != nil {
		return err
	}
	h.session = s
	return nil
}

// Down stops the stack if it is running. It never fails.
func (h *Handle) Down(ctx context.Context) error {
	if h.session == nil {
		return nil
	}
	h.Machine.Stop(ctx, h.session)
	h.session = nil
	return nil
}

// Session returns the running session, or nil.
func (h *Handle) Session() *Session { return h.session }
