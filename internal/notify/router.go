package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Anomyking/RP/internal/domain"
	"github.com/Anomyking/RP/internal/repo"
)

// Pusher is the live delivery side of the router; the websocket hub
// implements it. A nil Pusher leaves records undelivered until the
// recipient connects.
type Pusher interface {
	Push(rec domain.Notification) (bool, error)
}

// Router turns a committed transition event into per-recipient inbox
// records and hands each to the delivery channel. Persistence happens
// before any push so a reconnect always sees at least what was pushed.
type Router struct {
	Repo repo.Repo
	Hub  Pusher
	Now  func() time.Time
}

func NewRouter(r repo.Repo, hub Pusher) Router {
	return Router{Repo: r, Hub: hub, Now: time.Now}
}

// Recipients computes the principals to inform, deterministically:
// the owner always, the assignee unless they acted, the whole
// superadmin pool on escalation. The actor is excluded from their own
// notification unless that would leave no one to tell.
func (rt Router) Recipients(ctx context.Context, evt domain.NotificationEvent) ([]string, error) {
	set := map[string]struct{}{evt.OwnerID: {}}
	if evt.AssignedTo != nil && *evt.AssignedTo != "" {
		set[*evt.AssignedTo] = struct{}{}
	}
	if evt.ToStatus == domain.StatusEscalated {
		pool, err := rt.Repo.SuperadminIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list escalation pool: %w", err)
		}
		for _, id := range pool {
			set[id] = struct{}{}
		}
	}
	delete(set, evt.ActorID)
	if len(set) == 0 {
		// No-self-notify would empty the set; keep the owner so the
		// event is never silently dropped.
		set[evt.OwnerID] = struct{}{}
	}
	recipients := make([]string, 0, len(set))
	for id := range set {
		recipients = append(recipients, id)
	}
	sort.Strings(recipients)
	return recipients, nil
}

// Dispatch persists one record per recipient and then attempts live
// delivery. Push failures are logged and left for reconnect catch-up;
// they never propagate to the caller.
func (rt Router) Dispatch(ctx context.Context, evt domain.NotificationEvent) ([]domain.Notification, error) {
	// The transition is already committed by the time Dispatch runs;
	// a client disconnect must not cancel inbox persistence.
	ctx = context.WithoutCancel(ctx)

	recipients, err := rt.Recipients(ctx, evt)
	if err != nil {
		return nil, err
	}
	evt.Recipients = recipients

	payload, err := json.Marshal(map[string]any{
		"report_id":   evt.ReportID,
		"from_status": evt.FromStatus,
		"to_status":   evt.ToStatus,
		"actor_id":    evt.ActorID,
		"ts":          evt.TS,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}

	now := rt.now().UTC().Format(time.RFC3339)
	records := make([]domain.Notification, 0, len(recipients))
	for _, recipientID := range recipients {
		rec := domain.Notification{
			ID:          recordID(evt, recipientID),
			RecipientID: recipientID,
			ReportID:    evt.ReportID,
			PayloadJSON: string(payload),
			CreatedAt:   now,
		}
		if err := rt.Repo.Enqueue(ctx, rec); err != nil {
			return nil, fmt.Errorf("enqueue notification for %s: %w", recipientID, err)
		}
		records = append(records, rec)
	}

	if rt.Hub != nil {
		// Fan-out is per-recipient independent; a stalled push must
		// not block the others.
		for _, rec := range records {
			rec := rec
			go func() {
				if _, err := rt.Hub.Push(rec); err != nil {
					log.Printf("notify: push to %s failed: %v", rec.RecipientID, err)
				}
			}()
		}
	}
	return records, nil
}

func (rt Router) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}

// recordID derives a stable id from the event identity and recipient,
// making Enqueue idempotent across redundant dispatches.
func recordID(evt domain.NotificationEvent, recipientID string) string {
	seed := fmt.Sprintf("%s|%d|%s", evt.ReportID, evt.Seq, recipientID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
