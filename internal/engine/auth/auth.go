package auth

import (
	"fmt"

	"github.com/Anomyking/RP/internal/domain"
)

// ForbiddenError indicates the actor's role is not permitted for the
// attempted transition edge.
type ForbiddenError struct {
	Role domain.Role
	From domain.Status
	To   domain.Status
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not transition %s -> %s", e.Role, e.From, e.To)
}

// InvalidTransitionError indicates no edge exists from the report's
// current status to the requested one.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid report status transition %s -> %s", e.From, e.To)
}

type edge struct {
	from, to domain.Status
}

// rule is one entry in the lifecycle permission matrix.
type rule struct {
	roles       []domain.Role
	assignActor bool
}

// transitions is the single source of truth for who may move a report
// along which edge. Every enforcement point consults this table.
var transitions = map[edge]rule{
	{domain.StatusSubmitted, domain.StatusInReview}: {roles: []domain.Role{domain.RoleAdmin, domain.RoleSuperadmin}, assignActor: true},
	{domain.StatusSubmitted, domain.StatusRejected}: {roles: []domain.Role{domain.RoleAdmin, domain.RoleSuperadmin}},
	{domain.StatusInReview, domain.StatusEscalated}: {roles: []domain.Role{domain.RoleAdmin}},
	{domain.StatusInReview, domain.StatusResolved}:  {roles: []domain.Role{domain.RoleAdmin, domain.RoleSuperadmin}},
	{domain.StatusInReview, domain.StatusRejected}:  {roles: []domain.Role{domain.RoleAdmin, domain.RoleSuperadmin}},
	{domain.StatusEscalated, domain.StatusResolved}: {roles: []domain.Role{domain.RoleSuperadmin}},
	{domain.StatusEscalated, domain.StatusRejected}: {roles: []domain.Role{domain.RoleSuperadmin}},
}

// CheckTransition validates the edge and the actor's authority for it.
// The edge check runs first so a nonexistent edge is reported as
// invalid regardless of role.
func CheckTransition(from, to domain.Status, role domain.Role) error {
	r, ok := transitions[edge{from, to}]
	if !ok {
		return InvalidTransitionError{From: from, To: to}
	}
	for _, allowed := range r.roles {
		if role == allowed {
			return nil
		}
	}
	return ForbiddenError{Role: role, From: from, To: to}
}

// AssignsActor reports whether committing the edge records the actor
// as the report's assignee.
func AssignsActor(from, to domain.Status) bool {
	r, ok := transitions[edge{from, to}]
	return ok && r.assignActor
}
