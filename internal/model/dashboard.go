package model

import "time"

// ActivityEntry is one line of the operations activity feed (admin actions,
// job transitions, payouts). Low volume, broadcast to every admin session.
type ActivityEntry struct {
	ID        string    `json:"id"`
	ActorName string    `json:"actor_name"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertLevel classifies operational alerts; only critical ones are pushed in
// real time.
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// AlertEntry is an operational alert raised by the alert collaborator
// (failed payouts, stuck jobs, abuse reports).
type AlertEntry struct {
	ID        string     `json:"id"`
	Level     AlertLevel `json:"level"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// JobUpdate announces that a marketplace job changed; coarse-grained on
// purpose — clients invalidate their job list instead of patching rows.
type JobUpdate struct {
	JobID      string `json:"job_id"`
	UpdateType string `json:"update_type"`
}
