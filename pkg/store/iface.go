// iface.go defines the StoreInterface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface. The engine, gateways
// and HTTP layer accept StoreInterface so tests can inject failing stores.
package store

import (
	"time"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// StoreInterface defines the full set of store operations.
// The concrete *Store type implements this interface.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// ResetSimulation clears every derived table.
	ResetSimulation() error

	// --- Simulation state ---

	// LoadState returns the persisted simulation state (zero if never saved).
	LoadState() (State, error)

	// SaveState upserts the simulation state.
	SaveState(st State) error

	// --- Personas ---

	CreatePersona(p *model.Persona) (*model.Persona, error)
	GetPersona(id int64) (*model.Persona, error)
	ListPersonas() ([]model.Persona, error)
	DeletePersona(id int64) error

	// --- Runtime inbox ---

	EnqueueMessage(m *model.InboundMessage) (int64, error)
	ListInbox() ([]model.InboundMessage, error)
	DeleteInboxMessages(ids []int64) error

	// --- Status overrides ---

	UpsertOverride(o model.StatusOverride) error
	DeleteOverride(workerID int64) error
	DeleteExpiredOverrides(tick int64) (int64, error)
	ListOverrides() ([]model.StatusOverride, error)

	// --- Scheduled communications ---

	ReplaceSchedule(personID int64, comms []model.ScheduledComm) error
	ListScheduledComms() ([]model.ScheduledComm, error)

	// --- Plans and reports ---

	PutWorkerPlan(p *model.WorkerPlan) (*model.WorkerPlan, error)
	GetWorkerPlan(personID, tick int64, planType model.PlanType) (*model.WorkerPlan, error)
	ListWorkerPlans(personID int64, planType model.PlanType, fromTick, toTick int64, limit int) ([]model.WorkerPlan, error)
	CountWorkerPlans(planType model.PlanType) int64

	PutHourlySummary(h *model.HourlySummary) (*model.HourlySummary, error)
	GetHourlySummary(personID, hourIndex int64) (*model.HourlySummary, error)
	ListHourlySummaries(personID, fromHour, toHour int64) ([]model.HourlySummary, error)

	PutDailyReport(r *model.DailyReport) (*model.DailyReport, error)
	GetDailyReport(personID, dayIndex int64) (*model.DailyReport, error)
	ListDailyReports(personID int64, limit int) ([]model.DailyReport, error)

	InsertSimulationReport(r *model.SimulationReport) (*model.SimulationReport, error)
	ListSimulationReports(limit int) ([]model.SimulationReport, error)

	InsertProjectPlan(p *model.ProjectPlan) (*model.ProjectPlan, error)
	LatestProjectPlan() (*model.ProjectPlan, error)

	TokenUsage() ([]model.TokenUsage, error)

	// --- Simulation log and events ---

	InsertEvent(e *model.Event) (int64, error)
	ListEvents(sinceTick int64, limit int) ([]model.Event, error)
	ListEventsSinceID(sinceID int64, limit int) ([]model.Event, error)
	MaxEventID() int64
	CountEvents(kind model.EventKind) int64

	InsertSimEvent(ev *model.SimEvent) (*model.SimEvent, error)
	ListSimEvents() ([]model.SimEvent, error)

	// --- Leases ---

	AcquireLease(name, holder string, ttl time.Duration) (*Lease, *Lease, error)
	ReleaseLease(name, holder string) error

	// --- Gateway tables ---

	EnsureMailbox(address, displayName string) error
	InsertEmail(e *model.EmailRecord) error
	GetEmail(id string) (*model.EmailRecord, error)
	ListEmails(address string, limit int) ([]model.EmailRecord, error)
	CountEmails() int64

	EnsureChatUser(handle, displayName string) error
	InsertChat(c *model.ChatRecord) error
	ListChats(handle string, limit int) ([]model.ChatRecord, error)
	CountChats() int64
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
