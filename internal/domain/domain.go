package domain

// Role is the single role carried by a principal.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// ValidRole reports whether r is one of the three known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// Staff reports whether the role may act on other people's reports.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// Status is a report lifecycle state.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusInReview  Status = "in_review"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
	StatusRejected  Status = "rejected"
)

// ValidStatus reports whether s names a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusSubmitted, StatusInReview, StatusEscalated, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

type Principal struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role" enum:"user,admin,superadmin"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Report struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Status      Status  `json:"status" enum:"submitted,in_review,escalated,resolved,rejected"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	// Version counts committed transitions; it is the optimistic
	// concurrency token and equals the seq of the latest history entry.
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Transition is one append-only report history entry.
type Transition struct {
	ReportID   string `json:"report_id"`
	Seq        int    `json:"seq"`
	FromStatus Status `json:"from_status"`
	ToStatus   Status `json:"to_status"`
	ActorID    string `json:"actor_id"`
	TS         string `json:"ts" format:"date-time"`
}

// NotificationEvent is the ephemeral fan-out input produced by the
// lifecycle engine when a transition commits.
type NotificationEvent struct {
	ReportID   string   `json:"report_id"`
	FromStatus Status   `json:"from_status"`
	ToStatus   Status   `json:"to_status"`
	Seq        int      `json:"seq"`
	ActorID    string   `json:"actor_id"`
	OwnerID    string   `json:"owner_id"`
	AssignedTo *string  `json:"assigned_to,omitempty"`
	TS         string   `json:"ts" format:"date-time"`
	Recipients []string `json:"recipients,omitempty"`
}

type Notification struct {
	ID          string  `json:"id"`
	RecipientID string  `json:"recipient_id"`
	ReportID    string  `json:"report_id"`
	PayloadJSON string  `json:"payload_json"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	DeliveredAt *string `json:"delivered_at,omitempty" format:"date-time"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
