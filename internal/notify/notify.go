// Package notify delivers operation feedback to the acting user. Messages
// are persisted as notification rows keyed to the actor carried in the
// request context, so the UI can show them as toasts or an inbox.
package notify

import (
	"context"
	"log"
)

type actorKey struct{}

// WithActor tags a context with the user who initiated the operation.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the acting user's ID, or "" if none was set.
func ActorFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(actorKey{}).(string)
	return userID
}

// NotificationStore persists notification rows.
type NotificationStore interface {
	InsertNotification(ctx context.Context, userID, kind, message string) error
}

// Recorder writes success/error feedback for the context's actor.
type Recorder struct {
	store NotificationStore
}

func NewRecorder(store NotificationStore) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Success(ctx context.Context, message string) {
	r.record(ctx, "success", message)
}

func (r *Recorder) Error(ctx context.Context, message string) {
	r.record(ctx, "error", message)
}

func (r *Recorder) record(ctx context.Context, kind, message string) {
	userID := ActorFromContext(ctx)
	if userID == "" {
		log.Printf("notify: no actor in context, dropping %s: %s", kind, message)
		return
	}
	if err := r.store.InsertNotification(ctx, userID, kind, message); err != nil {
		log.Printf("notify: store notification for %s: %v", userID, err)
	}
}
