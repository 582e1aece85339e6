package reconciler

import (
	"context"
	"fmt"
	"sync"

	"clinicgo/internal/models"
	"clinicgo/internal/session"
)

// Engine is the external answer capability: given a query it returns an
// answer or fails. cb, when non-nil, receives the accumulated output after
// each chunk.
type Engine interface {
	Stream(ctx context.Context, query string, cb func(string) error) (string, error)
}

// StreamHooks lets the caller observe the pass while it runs: OnUser fires
// as soon as the user turn is appended, OnChunk relays partial engine
// output. Both are optional.
type StreamHooks struct {
	OnUser  func(models.Message) error
	OnChunk func(string) error
}

// Outcome is the result of one reconciliation pass.
type Outcome struct {
	User      *models.Message
	Assistant *models.Message
	Cached    bool
	// EngineErr is set when the answer engine failed; the turn's history
	// entry is left without a response so an identical query retries the
	// engine instead of replaying the failure.
	EngineErr error
	Plan      *models.RenderPlan
}

// Reconciler reduces one Trigger against the conversation store per pass.
// Passes run strictly sequentially; the mutex is the only synchronization
// in the system.
type Reconciler struct {
	store  *session.Store
	engine Engine
	mu     sync.Mutex
}

func New(store *session.Store, engine Engine) *Reconciler {
	return &Reconciler{store: store, engine: engine}
}

// Resolve consumes the trigger exactly once and runs the pass to
// completion, including the blocking engine call. The returned error covers
// store failures only; engine failures are surfaced per turn via
// Outcome.EngineErr.
func (r *Reconciler) Resolve(ctx context.Context, trig models.Trigger, hooks StreamHooks) (*Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch trig.Type {
	case models.TriggerHistoryClick:
		return r.resolveHistoryClick(ctx, trig)
	case models.TriggerNewSearch:
		return r.resolveNewSearch(ctx, trig, hooks)
	default:
		return nil, fmt.Errorf("unknown trigger type %q", trig.Type)
	}
}

func (r *Reconciler) resolveHistoryClick(ctx context.Context, trig models.Trigger) (*Outcome, error) {
	existing, err := r.store.FindMessageByID(ctx, trig.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Already visible; just relocate the view.
		return &Outcome{
			Plan: &models.RenderPlan{ScrollTarget: trig.ID, SettleDelay: models.ScrollSettleShort},
		}, nil
	}

	entry, err := r.store.FindHistoryByID(ctx, trig.ID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Response == "" {
		// Nothing to restore: without the entry the original query text is
		// unavailable.
		return &Outcome{}, nil
	}

	user, err := r.store.AppendMessage(ctx, models.RoleUser, entry.Label, entry.ID, false)
	if err != nil {
		return nil, err
	}
	assistant, err := r.store.AppendMessage(ctx, models.RoleAssistant, entry.Response, "", false)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		User:      &user,
		Assistant: &assistant,
		Plan:      &models.RenderPlan{ScrollTarget: trig.ID, SettleDelay: models.ScrollSettleLong},
	}, nil
}

func (r *Reconciler) resolveNewSearch(ctx context.Context, trig models.Trigger, hooks StreamHooks) (*Outcome, error) {
	// A repeated query still produces a new visible turn; only the
	// cache-vs-invoke decision below differs.
	id := r.store.NextID()
	user, err := r.store.AppendMessage(ctx, models.RoleUser, trig.Label, id, false)
	if err != nil {
		return nil, err
	}
	if hooks.OnUser != nil {
		if err := hooks.OnUser(user); err != nil {
			return nil, err
		}
	}
	if _, err := r.store.AppendHistory(ctx, trig.Label, trig.Query, id); err != nil {
		return nil, err
	}

	plan := &models.RenderPlan{ScrollTarget: id, SettleDelay: models.ScrollSettleLong}

	// This turn's entry has no response yet, so only an earlier completed
	// entry can match here.
	cached, err := r.store.FindHistoryByQuery(ctx, trig.Query)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		assistant, err := r.store.AppendMessage(ctx, models.RoleAssistant, cached.Response, "", true)
		if err != nil {
			return nil, err
		}
		if err := r.store.SetResponse(ctx, trig.Query, cached.Response); err != nil {
			return nil, err
		}
		return &Outcome{User: &user, Assistant: &assistant, Cached: true, Plan: plan}, nil
	}

	answer, err := r.engine.Stream(ctx, trig.Query, hooks.OnChunk)
	if err != nil {
		return &Outcome{User: &user, EngineErr: err, Plan: plan}, nil
	}
	assistant, err := r.store.AppendMessage(ctx, models.RoleAssistant, answer, "", false)
	if err != nil {
		return nil, err
	}
	if err := r.store.SetResponse(ctx, trig.Query, answer); err != nil {
		return nil, err
	}
	return &Outcome{User: &user, Assistant: &assistant, Plan: plan}, nil
}
