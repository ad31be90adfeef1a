package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// StartRequest selects the personas of a run. Empty means everyone.
type StartRequest struct {
	PersonaIDs []int64 `json:"persona_ids"`
}

// AdvanceRequest asks the engine to move the clock.
type AdvanceRequest struct {
	Ticks  int    `json:"ticks" binding:"required"`
	Reason string `json:"reason"`
}

// AutoTickRequest toggles the background ticker.
type AutoTickRequest struct {
	Enabled bool `json:"enabled"`
}

// OverrideRequest forces a persona unavailable until a tick.
type OverrideRequest struct {
	Status    model.OverrideStatus `json:"status" binding:"required"`
	UntilTick int64                `json:"until_tick" binding:"required"`
	Reason    string               `json:"reason"`
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if err := s.engine.Start(c.Request.Context(), req.PersonaIDs); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   s.engine.Status(),
		"personas": s.engine.ActivePersonas(),
	})
}

func (s *Server) stop(c *gin.Context) {
	report, err := s.engine.Stop(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.engine.Status(), "report": report})
}

func (s *Server) reset(c *gin.Context) {
	if err := s.engine.Reset(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) advance(c *gin.Context) {
	var req AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	// A batch runs to completion even if the client goes away.
	res, err := s.engine.Advance(context.WithoutCancel(c.Request.Context()), req.Ticks, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) autoTick(c *gin.Context) {
	var req AutoTickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Enabled {
		if err := s.engine.StartAutoTicks(); err != nil {
			s.fail(c, err)
			return
		}
	} else {
		s.engine.StopAutoTicks()
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

// --- personas ---

func (s *Server) listPeople(c *gin.Context) {
	people, err := s.store.ListPersonas()
	if err != nil {
		s.fail(c, err)
		return
	}
	if people == nil {
		people = []model.Persona{}
	}
	c.JSON(http.StatusOK, people)
}

func (s *Server) createPerson(c *gin.Context) {
	var p model.Persona
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		badRequest(c, "name is required")
		return
	}
	created, err := s.store.CreatePersona(&p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getPerson(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	p, err := s.store.GetPersona(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) deletePerson(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	if err := s.store.DeletePersona(id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) inbox(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	msgs, err := s.engine.Inbox(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.InboundMessage{}
	}
	c.JSON(http.StatusOK, msgs)
}

// plans lists a persona's plans. ?type=daily|hourly, ?from and ?to bound the
// tick (hourly) or day index (daily).
func (s *Server) plans(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	planType := model.PlanType(c.DefaultQuery("type", string(model.PlanHourly)))
	if planType != model.PlanHourly && planType != model.PlanDaily {
		badRequest(c, "type must be daily or hourly")
		return
	}
	from, ok := queryInt(c, "from", 0)
	if !ok {
		return
	}
	to, ok := queryInt(c, "to", -1)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	plans, err := s.store.ListWorkerPlans(id, planType, from, to, int(limit))
	if err != nil {
		s.fail(c, err)
		return
	}
	if plans == nil {
		plans = []model.WorkerPlan{}
	}
	c.JSON(http.StatusOK, plans)
}

func (s *Server) dailyPlan(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	day, ok := queryInt(c, "day", 0)
	if !ok {
		return
	}
	plan, err := s.engine.EnsureDailyPlan(c.Request.Context(), id, day)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) hourlySummaries(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	from, ok := queryInt(c, "from", 0)
	if !ok {
		return
	}
	to, ok := queryInt(c, "to", 1<<31)
	if !ok {
		return
	}
	sums, err := s.store.ListHourlySummaries(id, from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	if sums == nil {
		sums = []model.HourlySummary{}
	}
	c.JSON(http.StatusOK, sums)
}

// dailyReports lists stored reports, or with ?day generates that day's
// report on demand.
func (s *Server) dailyReports(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	if _, has := c.GetQuery("day"); has {
		day, ok := queryInt(c, "day", 0)
		if !ok {
			return
		}
		report, err := s.engine.EnsureDailyReport(c.Request.Context(), id, day)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	reports, err := s.store.ListDailyReports(id, int(limit))
	if err != nil {
		s.fail(c, err)
		return
	}
	if reports == nil {
		reports = []model.DailyReport{}
	}
	c.JSON(http.StatusOK, reports)
}

// --- overrides and events ---

func (s *Server) setOverride(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.engine.SetStatusOverride(id, req.Status, req.UntilTick, req.Reason); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model.StatusOverride{WorkerID: id, Status: req.Status, UntilTick: req.UntilTick, Reason: req.Reason})
}

func (s *Server) clearOverride(c *gin.Context) {
	id, ok := personID(c)
	if !ok {
		return
	}
	if err := s.engine.ClearStatusOverride(id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) overrides(c *gin.Context) {
	list, err := s.engine.Overrides()
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []model.StatusOverride{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) schedule(c *gin.Context) {
	id, ok := queryInt(c, "person_id", 0)
	if !ok {
		return
	}
	comms, err := s.engine.Scheduled(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if comms == nil {
		comms = []model.ScheduledComm{}
	}
	c.JSON(http.StatusOK, comms)
}

func (s *Server) injectEvent(c *gin.Context) {
	var ev model.SimEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err.Error())
		return
	}
	applied, err := s.engine.InjectEvent(ev)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, applied)
}

func (s *Server) simEvents(c *gin.Context) {
	evs, err := s.store.ListSimEvents()
	if err != nil {
		s.fail(c, err)
		return
	}
	if evs == nil {
		evs = []model.SimEvent{}
	}
	c.JSON(http.StatusOK, evs)
}

// eventLog pages through the simulation log by id (?after) or tick (?since).
func (s *Server) eventLog(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	var (
		evs []model.Event
		err error
	)
	if _, has := c.GetQuery("after"); has {
		after, ok := queryInt(c, "after", 0)
		if !ok {
			return
		}
		evs, err = s.store.ListEventsSinceID(after, int(limit))
	} else {
		since, ok := queryInt(c, "since", 0)
		if !ok {
			return
		}
		evs, err = s.store.ListEvents(since, int(limit))
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if evs == nil {
		evs = []model.Event{}
	}
	c.JSON(http.StatusOK, evs)
}

// --- mail and chat ---

func (s *Server) mail(c *gin.Context) {
	addr := c.Query("address")
	if addr == "" {
		badRequest(c, "address is required")
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	emails, err := s.store.ListEmails(addr, int(limit))
	if err != nil {
		s.fail(c, err)
		return
	}
	if emails == nil {
		emails = []model.EmailRecord{}
	}
	c.JSON(http.StatusOK, emails)
}

func (s *Server) chats(c *gin.Context) {
	handle := c.Query("handle")
	if handle == "" {
		badRequest(c, "handle is required")
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	msgs, err := s.store.ListChats(handle, int(limit))
	if err != nil {
		s.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.ChatRecord{}
	}
	c.JSON(http.StatusOK, msgs)
}

// --- reports and diagnostics ---

func (s *Server) projectPlan(c *gin.Context) {
	pp, err := s.store.LatestProjectPlan()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pp)
}

func (s *Server) simulationReports(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 10)
	if !ok {
		return
	}
	reports, err := s.store.ListSimulationReports(int(limit))
	if err != nil {
		s.fail(c, err)
		return
	}
	if reports == nil {
		reports = []model.SimulationReport{}
	}
	c.JSON(http.StatusOK, reports)
}

func (s *Server) plannerMetrics(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	m := s.engine.PlannerMetrics(int(limit))
	if m == nil {
		m = []model.PlannerMetricsEntry{}
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) tokenUsage(c *gin.Context) {
	usage, err := s.engine.TokenUsage()
	if err != nil {
		s.fail(c, err)
		return
	}
	var total int64
	for _, u := range usage {
		total += u.Tokens
	}
	if usage == nil {
		usage = []model.TokenUsage{}
	}
	c.JSON(http.StatusOK, gin.H{"per_model": usage, "total_tokens": total})
}

func personID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid persona id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int64) (int64, bool) {
	raw, has := c.GetQuery(key)
	if !has || raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(c, key+" must be an integer")
		return 0, false
	}
	return v, true
}
