package audit

import "time"

// EventType classifies an audit entry.
type EventType string

const (
	EventAuthenticationAttempt EventType = "AuthenticationAttempt"
	EventDataAccess            EventType = "DataAccess"
	EventSessionInvalidation   EventType = "SessionInvalidation"
	EventSessionTimeout        EventType = "SessionTimeout"
	EventSecurityEvent         EventType = "SecurityEvent"
	EventPermissionDenied      EventType = "PermissionDenied"
	EventRateLimitExceeded     EventType = "RateLimitExceeded"
)

// Severity drives the log level an entry is mirrored at. It does not
// affect how the entry is stored.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SystemProfile attributes entries that carry no bound profile.
const SystemProfile = "System"

// Entry is one immutable record of a policy decision or a delegated call
// outcome. Entries are never mutated or removed through this package.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Profile   string    `json:"profile"`
	EventType EventType `json:"event_type"`
	Operation string    `json:"operation"`
	Resource  string    `json:"resource,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Severity  Severity  `json:"severity"`
}
