package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Anomyking/RP/internal/domain"
	"github.com/Anomyking/RP/internal/engine/auth"
	"github.com/Anomyking/RP/internal/events"
	"github.com/Anomyking/RP/internal/repo"
)

// ErrConflict indicates a transition lost a per-report race and the
// requested edge no longer holds after re-validation.
var ErrConflict = errors.New("report transition conflict")

// Engine owns report lifecycle semantics: creation, the role-gated
// state machine, and the atomic status+history+event commit.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time

	locks *reportLocks
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
		locks:  newReportLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// reportLocks serializes transitions per report id. Cross-report
// transitions proceed fully in parallel.
type reportLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newReportLocks() *reportLocks {
	return &reportLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *reportLocks) forReport(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// release drops a report's lock entry. Waiters already holding the
// mutex still serialize with the holder; only new acquirers get a
// fresh one, which is fine once the report is terminal.
func (l *reportLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, id)
}

// ReportCreateOptions are parameters for filing a report.
type ReportCreateOptions struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Category    string
}

// CreateReport files a new report in the Submitted state. Submission is
// not a transition: there is no actor check and no history entry.
func (e Engine) CreateReport(ctx context.Context, opts ReportCreateOptions) (domain.Report, error) {
	if strings.TrimSpace(opts.OwnerID) == "" {
		return domain.Report{}, errors.New("owner is required")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Report{}, errors.New("title is required")
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Report{}, errors.New("description is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	rep := domain.Report{
		ID:          id,
		OwnerID:     opts.OwnerID,
		Title:       strings.TrimSpace(opts.Title),
		Description: strings.TrimSpace(opts.Description),
		Category:    strings.TrimSpace(opts.Category),
		Status:      domain.StatusSubmitted,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertReportTx(ctx, tx, rep); err != nil {
		return domain.Report{}, fmt.Errorf("insert report: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "report.created", "report", rep.ID, rep.OwnerID, events.EventPayload{
		"title":  rep.Title,
		"status": rep.Status,
	}); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// RequestTransition moves a report along one edge of the lifecycle
// state machine on behalf of the actor. On success it returns the
// updated report together with the notification event for fan-out.
//
// The commit of status update, history append and audit event is one
// transaction: a reader never observes a status without its history
// entry. A transition that loses the per-report race re-reads and
// re-validates once; if the edge no longer holds, ErrConflict.
func (e Engine) RequestTransition(ctx context.Context, reportID string, actor domain.Principal, target domain.Status) (domain.Report, domain.NotificationEvent, error) {
	if !domain.ValidStatus(target) {
		return domain.Report{}, domain.NotificationEvent{}, fmt.Errorf("unknown target status %q", target)
	}
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}
	if err := auth.CheckTransition(rep.Status, target, actor.Role); err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}

	lock := e.locks.forReport(reportID)
	lock.Lock()
	defer lock.Unlock()

	observedVersion := rep.Version
	current, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}
	if current.Version != observedVersion {
		// Lost the race; the single retry is this re-validation
		// against the winner's state.
		if err := auth.CheckTransition(current.Status, target, actor.Role); err != nil {
			return domain.Report{}, domain.NotificationEvent{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	rep, evt, err := e.commitTransition(ctx, current, actor, target)
	if err == nil && target.Terminal() {
		// Terminal reports take no further transitions; keeping the
		// lock entry would grow the map with every resolved report.
		e.locks.release(reportID)
	}
	return rep, evt, err
}

func (e Engine) commitTransition(ctx context.Context, rep domain.Report, actor domain.Principal, target domain.Status) (domain.Report, domain.NotificationEvent, error) {
	now := e.now().UTC().Format(time.RFC3339)
	from := rep.Status
	expectedVersion := rep.Version

	updated := rep
	updated.Status = target
	updated.Version = rep.Version + 1
	updated.UpdatedAt = now
	if auth.AssignsActor(from, target) {
		actorID := actor.ID
		updated.AssignedTo = &actorID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.ApplyTransitionTx(ctx, tx, updated, expectedVersion)
	if err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}
	if !ok {
		// Version moved between the locked read and the write; only
		// possible with an out-of-process writer. Surface as conflict.
		return domain.Report{}, domain.NotificationEvent{}, ErrConflict
	}
	t := domain.Transition{
		ReportID:   rep.ID,
		Seq:        updated.Version,
		FromStatus: from,
		ToStatus:   target,
		ActorID:    actor.ID,
		TS:         now,
	}
	if err := e.Repo.InsertTransitionTx(ctx, tx, t); err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}
	if err := e.Events.Append(ctx, tx, "report.transition", "report", rep.ID, actor.ID, events.EventPayload{
		"from_status": from,
		"to_status":   target,
		"seq":         updated.Version,
	}); err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, domain.NotificationEvent{}, err
	}

	evt := domain.NotificationEvent{
		ReportID:   updated.ID,
		FromStatus: from,
		ToStatus:   target,
		Seq:        updated.Version,
		ActorID:    actor.ID,
		OwnerID:    updated.OwnerID,
		AssignedTo: updated.AssignedTo,
		TS:         now,
	}
	return updated, evt, nil
}

// ReplayStatus folds a history trail over the initial state and
// returns the status it reconstructs.
func ReplayStatus(history []domain.Transition) domain.Status {
	status := domain.StatusSubmitted
	for _, t := range history {
		status = t.ToStatus
	}
	return status
}
