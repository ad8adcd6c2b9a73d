// Package audit records an append-only trail of actions. Writes are
// dispatched off the request path: a failed write never changes the
// outcome of the request that triggered it, but it is always counted,
// logged, and surfaced through the failure hook.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tardis-create/revenueforge-sub000/internal/auth"
	"github.com/tardis-create/revenueforge-sub000/internal/ids"
	"github.com/tardis-create/revenueforge-sub000/internal/obs"
)

// Action is the closed vocabulary of auditable operations.
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionLogin    Action = "login"
	ActionLogout   Action = "logout"
	ActionExport   Action = "export"
	ActionImport   Action = "import"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionAssign   Action = "assign"
	ActionUnassign Action = "unassign"
	ActionAPICall  Action = "api_call"
)

var validActions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {},
	ActionLogin: {}, ActionLogout: {}, ActionExport: {}, ActionImport: {},
	ActionApprove: {}, ActionReject: {}, ActionAssign: {}, ActionUnassign: {},
	ActionAPICall: {},
}

// ValidAction reports whether a belongs to the closed vocabulary.
func ValidAction(a Action) bool {
	_, ok := validActions[a]
	return ok
}

// Entry is one immutable audit record. ActorID is empty for anonymous or
// system actions.
type Entry struct {
	ID           string            `json:"id"`
	ActorID      string            `json:"actor_id,omitempty"`
	ActorEmail   string            `json:"actor_email,omitempty"`
	Action       Action            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	SourceIP     string            `json:"source_ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Filter selects entries on the read side. Zero fields match everything.
type Filter struct {
	ActorID      string
	Action       Action
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
	Page         int
	Limit        int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Normalize clamps pagination to sane bounds.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	return f
}

// Store persists entries. Append must be safe under concurrent writers
// from multiple instances; Query returns a page plus the total match count.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, int, error)
}

// Recorder dispatches fire-and-forget writes to a Store.
type Recorder struct {
	store   Store
	onError func(error)
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRecorder wraps the store. onError is an optional diagnostic hook
// invoked for every dropped write, in addition to the warning log and the
// audit_write_failures_total counter; pass nil to rely on those alone.
func NewRecorder(store Store, onError func(error)) *Recorder {
	return &Recorder{store: store, onError: onError, timeout: 5 * time.Second}
}

// Record fills in the entry id and timestamp and persists the entry in the
// background. It never blocks on the write and never returns an error to
// the caller; the request that triggered the entry is already done.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil || r.store == nil {
		return
	}
	if !ValidAction(entry.Action) || strings.TrimSpace(entry.ResourceType) == "" {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	// Detach from the request context: a client disconnect must not
	// cancel a write that was already dispatched.
	writeCtx := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(writeCtx, r.timeout)
		defer cancel()
		if err := r.store.Append(ctx, &entry); err != nil {
			obs.AuditWriteFailure()
			obs.Warn("audit write dropped", map[string]any{
				"action":        string(entry.Action),
				"resource_type": entry.ResourceType,
				"err":           err.Error(),
			})
			if r.onError != nil {
				r.onError(err)
			}
		}
	}()
}

// Flush waits for in-flight writes. Called on shutdown and from tests.
func (r *Recorder) Flush() {
	if r != nil {
		r.wg.Wait()
	}
}

// Query reads entries through the underlying store.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	return r.store.Query(ctx, f.Normalize())
}

// ActorFromContext fills actor fields from the request identity, leaving
// them empty for anonymous callers.
func ActorFromContext(ctx context.Context, entry *Entry) {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		entry.ActorID = identity.ID
		entry.ActorEmail = identity.Email
	}
}
