// Package events provides the in-process event bus.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	CycleStarted       EventType = "CYCLE_STARTED"
	CycleCompleted     EventType = "CYCLE_COMPLETED"
	CycleSkipped       EventType = "CYCLE_SKIPPED"
	CandidatesProposed EventType = "CANDIDATES_PROPOSED"
	OrderBlocked       EventType = "ORDER_BLOCKED"
	OrderPlaced        EventType = "ORDER_PLACED"
	OrderFilled        EventType = "ORDER_FILLED"
	OrderOpen          EventType = "ORDER_OPEN"
	OrderFailed        EventType = "ORDER_FAILED"
	OrderCancelled     EventType = "ORDER_CANCELLED"
	AlertTriggered     EventType = "ALERT_TRIGGERED"
	SettingsChanged    EventType = "SETTINGS_CHANGED"
	SnapshotRefreshed  EventType = "SNAPSHOT_REFRESHED"
	BackupCompleted    EventType = "BACKUP_COMPLETED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// AllTypes lists every event type, for subscribers that want everything
var AllTypes = []EventType{
	CycleStarted,
	CycleCompleted,
	CycleSkipped,
	CandidatesProposed,
	OrderBlocked,
	OrderPlaced,
	OrderFilled,
	OrderOpen,
	OrderFailed,
	OrderCancelled,
	AlertTriggered,
	SettingsChanged,
	SnapshotRefreshed,
	BackupCompleted,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// EventData is implemented by typed event payloads
type EventData interface {
	EventType() EventType
}

// OrderEventData describes one order lifecycle event
type OrderEventData struct {
	Type     EventType `json:"-"`
	OrderID  string    `json:"order_id,omitempty"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"price"`
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Bucket   string    `json:"bucket,omitempty"`
}

// EventType returns the lifecycle event this payload belongs to
func (d *OrderEventData) EventType() EventType {
	return d.Type
}

// CycleCompletedData summarizes a finished decision cycle
type CycleCompletedData struct {
	Candidates    int     `json:"candidates"`
	Submitted     int     `json:"submitted"`
	Filled        int     `json:"filled"`
	Blocked       int     `json:"blocked"`
	Failed        int     `json:"failed"`
	Alerts        int     `json:"alerts"`
	BudgetLeft    int     `json:"budget_left"`
	ConfigVersion uint64  `json:"config_version"`
	DurationMs    int64   `json:"duration_ms"`
	Equity        float64 `json:"equity"`
}

// EventType returns the event type for CycleCompletedData
func (d *CycleCompletedData) EventType() EventType {
	return CycleCompleted
}

// AlertData carries an emitted alert
type AlertData struct {
	AlertType string                 `json:"alert_type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details"`
}

// EventType returns the event type for AlertData
func (d *AlertData) EventType() EventType {
	return AlertTriggered
}

// SettingsChangedData describes a live settings change
type SettingsChangedData struct {
	Key           string `json:"key"`
	Value         string `json:"value"`
	ConfigVersion uint64 `json:"config_version"`
}

// EventType returns the event type for SettingsChangedData
func (d *SettingsChangedData) EventType() EventType {
	return SettingsChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
