package server

import (
	"fmt"
	"strings"

	"github.com/Anomyking/RP/internal/domain"
)

type RegisterRequest struct {
	Name     string `json:"name" example:"Jane Doe"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string            `json:"token"`
	Principal PrincipalResponse `json:"principal"`
}

type PrincipalResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"user,admin,superadmin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreatePrincipalRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
	Role     string `json:"role" enum:"admin,superadmin"`
}

type CreateReportRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    *string `json:"category,omitempty"`
}

type ReportResponse struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Status      string  `json:"status" enum:"submitted,in_review,escalated,resolved,rejected"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type TransitionRequest struct {
	TargetStatus string `json:"target_status" enum:"in_review,escalated,resolved,rejected"`
}

type TransitionResponse struct {
	ReportID   string `json:"report_id"`
	Seq        int    `json:"seq"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	TS         string `json:"ts" format:"date-time"`
}

type NotificationResponse struct {
	ID          string  `json:"id"`
	RecipientID string  `json:"recipient_id"`
	ReportID    string  `json:"report_id"`
	Payload     string  `json:"payload_json"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	DeliveredAt *string `json:"delivered_at,omitempty" format:"date-time"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedReports struct {
	Items      []ReportResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedNotifications struct {
	Items      []NotificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

func principalResponse(p domain.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Role:      string(p.Role),
		CreatedAt: p.CreatedAt,
	}
}

func mapPrincipals(items []domain.Principal) []PrincipalResponse {
	res := make([]PrincipalResponse, 0, len(items))
	for _, p := range items {
		res = append(res, principalResponse(p))
	}
	return res
}

func reportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Status:      string(r.Status),
		AssignedTo:  r.AssignedTo,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func mapReports(items []domain.Report) []ReportResponse {
	res := make([]ReportResponse, 0, len(items))
	for _, r := range items {
		res = append(res, reportResponse(r))
	}
	return res
}

func transitionResponse(t domain.Transition) TransitionResponse {
	return TransitionResponse{
		ReportID:   t.ReportID,
		Seq:        t.Seq,
		FromStatus: string(t.FromStatus),
		ToStatus:   string(t.ToStatus),
		ActorID:    t.ActorID,
		TS:         t.TS,
	}
}

func mapTransitions(items []domain.Transition) []TransitionResponse {
	res := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		res = append(res, transitionResponse(t))
	}
	return res
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		ReportID:    n.ReportID,
		Payload:     n.PayloadJSON,
		CreatedAt:   n.CreatedAt,
		DeliveredAt: n.DeliveredAt,
		ReadAt:      n.ReadAt,
	}
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	res := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		res = append(res, notificationResponse(n))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
