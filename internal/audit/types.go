package audit

import "time"

// Severity classifies how sensitive a recorded action is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Event is one immutable record of a state-changing action. Events are
// append-only: nothing updates or deletes an individual event, and the only
// bulk removal path is the retention sweep.
type Event struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	ActorUserID string            `json:"actor_user_id,omitempty"`
	ActorName   string            `json:"actor_name,omitempty"`
	ActorEmail  string            `json:"actor_email,omitempty"`
	Action      string            `json:"action"`
	EntityType  string            `json:"entity_type,omitempty"`
	EntityID    string            `json:"entity_id,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	IPAddress   string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Severity    Severity          `json:"severity"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Entry is the input to Record. An empty ActorUserID denotes a
// system-initiated action.
type Entry struct {
	TenantID    string
	ActorUserID string
	Action      string
	EntityType  string
	EntityID    string
	Details     map[string]string
	IPAddress   string
	UserAgent   string
}

// Filter narrows query and export results. All fields are optional and
// conjunctive.
type Filter struct {
	ActorUserID string
	Action      string
	EntityType  string
	Start       *time.Time
	End         *time.Time
	Search      string
}

// Page is one page of query results ordered by created_at descending.
type Page struct {
	Items    []Event `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// Statistics aggregates event counts over a trailing window.
type Statistics struct {
	WindowDays int              `json:"window_days"`
	Total      int              `json:"total"`
	ByAction   map[string]int   `json:"by_action"`
	BySeverity map[Severity]int `json:"by_severity"`
}
