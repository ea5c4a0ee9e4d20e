package notify_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/Anomyking/RP/internal/db"
	"github.com/Anomyking/RP/internal/domain"
	"github.com/Anomyking/RP/internal/engine"
	"github.com/Anomyking/RP/internal/migrate"
	"github.com/Anomyking/RP/internal/notify"
	"github.com/Anomyking/RP/internal/repo"
)

type routerEnv struct {
	Repo repo.Repo
	Ctx  context.Context

	Owner  domain.Principal
	Admin  domain.Principal
	Super1 domain.Principal
	Super2 domain.Principal

	Report domain.Report
}

func newRouterEnv(t *testing.T) routerEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	env := routerEnv{Repo: r, Ctx: ctx}
	env.Owner = seed(t, ctx, r, "owner", domain.RoleUser)
	env.Admin = seed(t, ctx, r, "admin", domain.RoleAdmin)
	env.Super1 = seed(t, ctx, r, "super-a", domain.RoleSuperadmin)
	env.Super2 = seed(t, ctx, r, "super-b", domain.RoleSuperadmin)

	eng := engine.New(conn)
	rep, err := eng.CreateReport(ctx, engine.ReportCreateOptions{
		OwnerID:     env.Owner.ID,
		Title:       "Noise complaint",
		Description: "Loud at night",
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	env.Report = rep
	return env
}

func seed(t *testing.T, ctx context.Context, r repo.Repo, id string, role domain.Role) domain.Principal {
	t.Helper()
	p := domain.Principal{
		ID:           id,
		Name:         id,
		Email:        id + "@example.com",
		Role:         role,
		PasswordHash: "x",
		CreatedAt:    "2026-01-01T00:00:00Z",
	}
	if err := r.InsertPrincipal(ctx, p); err != nil {
		t.Fatalf("seed principal %s: %v", id, err)
	}
	return p
}

func (env routerEnv) event(actorID string, to domain.Status, assignedTo *string) domain.NotificationEvent {
	return domain.NotificationEvent{
		ReportID:   env.Report.ID,
		FromStatus: domain.StatusSubmitted,
		ToStatus:   to,
		Seq:        1,
		ActorID:    actorID,
		OwnerID:    env.Owner.ID,
		AssignedTo: assignedTo,
		TS:         "2026-01-01T00:00:00Z",
	}
}

func TestRecipientsExcludeActor(t *testing.T) {
	env := newRouterEnv(t)
	rt := notify.NewRouter(env.Repo, nil)

	got, err := rt.Recipients(env.Ctx, env.event(env.Admin.ID, domain.StatusInReview, &env.Admin.ID))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{env.Owner.ID}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
}

func TestRecipientsOwnerFallback(t *testing.T) {
	env := newRouterEnv(t)
	rt := notify.NewRouter(env.Repo, nil)

	// The owner acting on their own report would otherwise empty the
	// set; the event must still land somewhere.
	got, err := rt.Recipients(env.Ctx, env.event(env.Owner.ID, domain.StatusInReview, nil))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{env.Owner.ID}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
}

func TestRecipientsEscalationBroadcast(t *testing.T) {
	env := newRouterEnv(t)
	rt := notify.NewRouter(env.Repo, nil)

	got, err := rt.Recipients(env.Ctx, env.event(env.Admin.ID, domain.StatusEscalated, &env.Admin.ID))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{env.Owner.ID, env.Super1.ID, env.Super2.ID}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
	// Determinism: same event, same ordered set.
	again, err := rt.Recipients(env.Ctx, env.event(env.Admin.ID, domain.StatusEscalated, &env.Admin.ID))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("recipients not deterministic: %v vs %v", got, again)
	}
}

func TestDispatchPersistsPerRecipient(t *testing.T) {
	env := newRouterEnv(t)
	rt := notify.NewRouter(env.Repo, nil)
	rt.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	records, err := rt.Dispatch(env.Ctx, env.event(env.Admin.ID, domain.StatusEscalated, &env.Admin.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for _, rec := range records {
		pending, err := env.Repo.ListUndelivered(env.Ctx, rec.RecipientID)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].ID != rec.ID {
			t.Fatalf("recipient %s: pending = %+v", rec.RecipientID, pending)
		}
	}
}

func TestDispatchSurvivesRequestCancellation(t *testing.T) {
	env := newRouterEnv(t)
	rt := notify.NewRouter(env.Repo, nil)

	// The triggering request's context may die the moment the
	// transition commits; the committed event must still reach the
	// inbox.
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()

	records, err := rt.Dispatch(ctx, env.event(env.Admin.ID, domain.StatusInReview, &env.Admin.ID))
	if err != nil {
		t.Fatalf("dispatch after client disconnect: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	pending, err := env.Repo.ListUndelivered(env.Ctx, env.Owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != records[0].ID {
		t.Fatalf("owner pending = %+v", pending)
	}
}

func TestDispatchIsIdempotent(t *testing.T) {
	env := newRouterEnv(t)
	rt := notify.NewRouter(env.Repo, nil)
	evt := env.event(env.Admin.ID, domain.StatusInReview, &env.Admin.ID)

	first, err := rt.Dispatch(env.Ctx, evt)
	if err != nil {
		t.Fatal(err)
	}
	second, err := rt.Dispatch(env.Ctx, evt)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("record counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("record ids differ at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
	inbox, err := env.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{RecipientID: env.Owner.ID, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 {
		t.Fatalf("inbox size = %d after duplicate dispatch, want 1", len(inbox))
	}
}

type recordingPusher struct {
	pushed chan domain.Notification
}

func (p *recordingPusher) Push(rec domain.Notification) (bool, error) {
	p.pushed <- rec
	return true, nil
}

func TestDispatchPushesEachRecord(t *testing.T) {
	env := newRouterEnv(t)
	pusher := &recordingPusher{pushed: make(chan domain.Notification, 8)}
	rt := notify.NewRouter(env.Repo, pusher)

	records, err := rt.Dispatch(env.Ctx, env.event(env.Admin.ID, domain.StatusEscalated, &env.Admin.ID))
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for range records {
		select {
		case rec := <-pusher.pushed:
			seen[rec.ID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for push")
		}
	}
	for _, rec := range records {
		if !seen[rec.ID] {
			t.Fatalf("record %s never pushed", rec.ID)
		}
	}
}
