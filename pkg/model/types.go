// Package model defines the core domain types for the virtual office.
//
// The simulator advances a discrete clock. One tick is one step of simulated
// time; ticks_per_day of them make up a simulated day. Personas (simulated
// team members) are asked by a planner what they will do next, and the
// planner's text is mined for scheduled emails and chats that are later
// delivered through the email/chat gateways.
//
// Everything the engine owns at runtime (inboxes, overrides, schedules) is
// mirrored into the store so a restarted process resumes where it stopped.
package model

import (
	"strings"
	"time"
)

// SimulationStatus is the engine's externally visible state.
type SimulationStatus struct {
	CurrentTick int64  `json:"current_tick"`
	IsRunning   bool   `json:"is_running"`
	AutoTick    bool   `json:"auto_tick"`
	SimTime     string `json:"sim_time,omitempty"`
}

// ScheduleBlock is one entry of a persona's fixed daily routine.
type ScheduleBlock struct {
	Start    string `json:"start" yaml:"start" toml:"start"`
	End      string `json:"end" yaml:"end" toml:"end"`
	Activity string `json:"activity" yaml:"activity" toml:"activity"`
}

// Persona is a simulated team member. Created through registration and
// treated as immutable by the engine for the duration of a run.
type Persona struct {
	ID               int64           `json:"id" yaml:"-" toml:"-"`
	Name             string          `json:"name" yaml:"name" toml:"name"`
	Role             string          `json:"role" yaml:"role" toml:"role"`
	Timezone         string          `json:"timezone" yaml:"timezone" toml:"timezone"`
	WorkHours        string          `json:"work_hours" yaml:"work_hours" toml:"work_hours"`
	ChatHandle       string          `json:"chat_handle" yaml:"chat_handle" toml:"chat_handle"`
	EmailAddress     string          `json:"email_address" yaml:"email_address" toml:"email_address"`
	IsDepartmentHead bool            `json:"is_department_head" yaml:"is_department_head" toml:"is_department_head"`
	Skills           []string        `json:"skills,omitempty" yaml:"skills,omitempty" toml:"skills,omitempty"`
	Schedule         []ScheduleBlock `json:"schedule,omitempty" yaml:"schedule,omitempty" toml:"schedule,omitempty"`
	CreatedAt        time.Time       `json:"created_at" yaml:"-" toml:"-"`
}

// MessageType classifies an inbound message.
type MessageType string

const (
	MessageUpdate MessageType = "update"
	MessageAck    MessageType = "ack"
	MessageEvent  MessageType = "event"
)

// Channel is the transport a communication travels on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelChat
}

// InboundMessage is one entry of a persona's runtime inbox. It is consumed
// exactly once by the persona's next planning pass.
type InboundMessage struct {
	ID          int64       `json:"id"`
	RecipientID int64       `json:"recipient_id"`
	SenderID    int64       `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	Subject     string      `json:"subject"`
	Summary     string      `json:"summary"`
	ActionItem  string      `json:"action_item,omitempty"`
	MessageType MessageType `json:"message_type"`
	Channel     Channel     `json:"channel"`
	Tick        int64       `json:"tick"`
	MessageID   string      `json:"message_id,omitempty"`
	// Reminder marks messages synthesized from adjustment notes. They
	// survive a sick-leave drain so the context isn't lost.
	Reminder bool `json:"reminder,omitempty"`
}

// OverrideStatus is a forced unavailability state.
type OverrideStatus string

const (
	StatusAbsent    OverrideStatus = "Absent"
	StatusOffline   OverrideStatus = "Offline"
	StatusSickLeave OverrideStatus = "SickLeave"
	StatusOnLeave   OverrideStatus = "OnLeave"
)

// Valid reports whether s is one of the known override states.
func (s OverrideStatus) Valid() bool {
	switch s {
	case StatusAbsent, StatusOffline, StatusSickLeave, StatusOnLeave:
		return true
	}
	return false
}

// StatusOverride suppresses a persona until UntilTick.
type StatusOverride struct {
	WorkerID  int64          `json:"worker_id"`
	Status    OverrideStatus `json:"status"`
	UntilTick int64          `json:"until_tick"`
	Reason    string         `json:"reason,omitempty"`
}

// Expired reports whether the override no longer applies at tick.
func (o StatusOverride) Expired(tick int64) bool { return o.UntilTick <= tick }

// ScheduledComm is a communication parsed from planner output and anchored
// to an absolute tick.
type ScheduledComm struct {
	PersonID       int64    `json:"person_id"`
	Tick           int64    `json:"tick"`
	Channel        Channel  `json:"channel"`
	Target         string   `json:"target"`
	Subject        string   `json:"subject,omitempty"`
	Body           string   `json:"body"`
	Cc             []string `json:"cc,omitempty"`
	Bcc            []string `json:"bcc,omitempty"`
	ReplyToEmailID string   `json:"reply_to_email_id,omitempty"`
}

// SameMessage reports whether two entries carry the same payload to the same
// target on the same channel. Ticks are compared by the caller.
func (c ScheduledComm) SameMessage(other ScheduledComm) bool {
	return c.Channel == other.Channel &&
		strings.EqualFold(c.Target, other.Target) &&
		c.Subject == other.Subject &&
		c.Body == other.Body
}

// PlanType distinguishes worker plan granularity.
type PlanType string

const (
	PlanDaily  PlanType = "daily"
	PlanHourly PlanType = "hourly"
)

// WorkerPlan is a daily or hourly plan. Daily plans are keyed by day index,
// hourly plans by tick.
type WorkerPlan struct {
	ID         int64     `json:"id"`
	PersonID   int64     `json:"person_id"`
	Tick       int64     `json:"tick"`
	PlanType   PlanType  `json:"plan_type"`
	Content    string    `json:"content"`
	Model      string    `json:"model_used"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// HourlySummary rolls up one simulated hour of hourly plans.
type HourlySummary struct {
	ID         int64     `json:"id"`
	PersonID   int64     `json:"person_id"`
	HourIndex  int64     `json:"hour_index"`
	Summary    string    `json:"summary"`
	Model      string    `json:"model_used"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyReport is the end-of-day report for one persona.
type DailyReport struct {
	ID              int64     `json:"id"`
	PersonID        int64     `json:"person_id"`
	DayIndex        int64     `json:"day_index"`
	Report          string    `json:"report"`
	ScheduleOutline string    `json:"schedule_outline,omitempty"`
	Model           string    `json:"model_used"`
	TokensUsed      int       `json:"tokens_used,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SimulationReport summarises a whole run. Generated on Stop.
type SimulationReport struct {
	ID         int64     `json:"id"`
	Report     string    `json:"report"`
	TotalTicks int64     `json:"total_ticks"`
	Model      string    `json:"model_used"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProjectPlan is the run-wide plan produced when a simulation starts.
type ProjectPlan struct {
	ID             int64     `json:"id"`
	ProjectName    string    `json:"project_name"`
	ProjectSummary string    `json:"project_summary"`
	Plan           string    `json:"plan"`
	GeneratedBy    int64     `json:"generated_by,omitempty"`
	DurationWeeks  int       `json:"duration_weeks"`
	Model          string    `json:"model_used"`
	TokensUsed     int       `json:"tokens_used,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PlannerMetricsEntry records one planner invocation. Diagnostic only.
type PlannerMetricsEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Planner   string        `json:"planner"`
	Model     string        `json:"model,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Fallback  bool          `json:"fallback"`
	Error     string        `json:"error,omitempty"`
	Context   string        `json:"context,omitempty"`
}

// EmailRecord is an email accepted by the email gateway.
type EmailRecord struct {
	ID       string   `json:"id"`
	Sender   string   `json:"sender"`
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	ThreadID string   `json:"thread_id,omitempty"`
	SentAt   string   `json:"sent_at"`
}

// ChatRecord is a direct message accepted by the chat gateway.
type ChatRecord struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	SentAt    string `json:"sent_at"`
}

// RecentEmail is kept in per-persona ring buffers for reply threading.
type RecentEmail struct {
	EmailID  string   `json:"email_id"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	ThreadID string   `json:"thread_id,omitempty"`
	Tick     int64    `json:"tick"`
}

// SimEventType enumerates simulation events.
type SimEventType string

const (
	SimEventSickLeave     SimEventType = "sick_leave"
	SimEventClientRequest SimEventType = "client_feature_request"
	SimEventCustom        SimEventType = "custom"
)

// SimEvent is a random or injected event affecting one or more personas.
type SimEvent struct {
	ID        int64             `json:"id"`
	Type      SimEventType      `json:"type"`
	TargetIDs []int64           `json:"target_ids"`
	AtTick    int64             `json:"at_tick"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// EventKind enumerates the entries of the append-only simulation log.
type EventKind string

const (
	EventTick     EventKind = "tick"
	EventEmail    EventKind = "email"
	EventChat     EventKind = "chat"
	EventPlan     EventKind = "plan"
	EventOverride EventKind = "override"
	EventSim      EventKind = "event"
	EventReport   EventKind = "report"
	EventExchange EventKind = "exchange"
	EventDrop     EventKind = "drop"
)

// Event is a single entry in the append-only simulation log.
type Event struct {
	ID        int64     `json:"id"`
	Tick      int64     `json:"tick"`
	Kind      EventKind `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Target    string    `json:"target,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenUsage aggregates planner token consumption per model.
type TokenUsage struct {
	Model  string `json:"model"`
	Tokens int64  `json:"tokens"`
}
