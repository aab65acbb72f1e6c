package recovery

import (
	"context"
	"fmt"
	"sync"

	"surveychat/pkg/logx"
)

// ConfirmFunc asks the respondent whether to resume the given session. It blocks until
// they answer.
type ConfirmFunc func(ctx context.Context, st State) (bool, error)

// Decision is the outcome of Guard.Resolve.
type Decision struct {
	Resume bool
	State  *State // set when Resume is true
}

// Guard runs the resume-or-discard prompt at most once per process.
type Guard struct {
	store   *Store
	confirm ConfirmFunc
	logger  *logx.Logger

	mu       sync.Mutex
	resolved bool
	decision Decision
}

func NewGuard(store *Store, confirm ConfirmFunc) *Guard {
	return &Guard{store: store, confirm: confirm, logger: logx.NewLogger("recovery")}
}

// Resolve looks for a previous session and, if found, asks whether to resume it.
// Declined or unreadable state is cleared. Later calls return the first decision
// without prompting. A failing prompt is returned as an error and not cached.
func (g *Guard) Resolve(ctx context.Context) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resolved {
		return g.decision, nil
	}

	st, err := g.store.Load(ctx)
	if err != nil {
		g.logger.Warn("recovery state unavailable, starting fresh: %v", err)
		g.clear(ctx)
		return g.settle(Decision{}), nil
	}
	if st == nil {
		return g.settle(Decision{}), nil
	}

	resume, err := g.confirm(ctx, *st)
	if err != nil {
		return Decision{}, fmt.Errorf("resume prompt: %w", err)
	}
	if !resume {
		g.logger.Info("respondent declined to resume session %s", st.SessionID)
		g.clear(ctx)
		return g.settle(Decision{}), nil
	}

	g.logger.Info("resuming session %s at position %d", st.SessionID, st.CurrentPosition)
	return g.settle(Decision{Resume: true, State: st}), nil
}

func (g *Guard) settle(d Decision) Decision {
	g.resolved = true
	g.decision = d
	return d
}

func (g *Guard) clear(ctx context.Context) {
	if err := g.store.Clear(ctx); err != nil {
		g.logger.Warn("%v", err)
	}
}
