// Package api exposes the town over HTTP: residents, places, the world
// state and a manual tick.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/chat"
	"github.com/nidhogg/smallville/internal/conversation"
	"github.com/nidhogg/smallville/internal/errs"
	"github.com/nidhogg/smallville/internal/feed"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/orchestrator"
	"github.com/nidhogg/smallville/internal/vectorstore"
	"github.com/nidhogg/smallville/internal/world"
)

// Store persists what the API creates. SaveAgent etc. come from the tick
// persister; locations are only ever created here.
type Store interface {
	orchestrator.Persister
	SaveLocation(ctx context.Context, loc world.Location) error
}

// MemorySearcher finds archived memories by embedding.
type MemorySearcher interface {
	Search(ctx context.Context, agentName string, vector []float32, topK uint64) ([]vectorstore.Hit, error)
}

// Deps are the handler's collaborators. Store, Relations, Archive and Feed
// are optional.
type Deps struct {
	Town          *world.Town
	Agents        *agent.Registry
	Conversations *conversation.Manager
	Driver        *orchestrator.Driver
	Chat          *chat.Service
	Clock         *world.WorldClock
	Heartbeat     *world.Heartbeat
	// TimeStep is how far POST /api/state moves the clock.
	TimeStep time.Duration
	// Memory scores the streams of agents created through the API.
	Memory    memory.ScoreConfig
	Recall    int
	Store     Store
	Relations *world.RelationGraph
	Archive   MemorySearcher
	Feed      *feed.Broadcaster
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	d      Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps, logger *zap.Logger) *Handler {
	if d.TimeStep <= 0 {
		d.TimeStep = 15 * time.Minute
	}
	if d.Recall <= 0 {
		d.Recall = 5
	}
	return &Handler{d: d, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.createAgent)
		r.Get("/agents/{name}", h.getAgent)
		r.Post("/agents/{name}/ask", h.askAgent)
		r.Post("/agents/{name}/memories", h.addMemory)
		r.Get("/agents/{name}/memories", h.listMemories)
		r.Get("/agents/{name}/memories/search", h.searchMemories)
		r.Get("/agents/{name}/relations", h.getRelations)

		r.Post("/locations", h.createLocation)
		r.Post("/objects", h.createObject)

		r.Get("/state", h.getState)
		r.Post("/state", h.advanceState)

		r.Get("/conversations", h.listConversations)
		r.Get("/feed", h.feedHistory)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "world": "smallville"})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.d.Agents.List()
	views := make([]agent.View, len(agents))
	for i, a := range agents {
		views[i] = a.View()
	}
	writeJSON(w, http.StatusOK, views)
}

type createAgentRequest struct {
	Name        string   `json:"name"`
	Location    string   `json:"location"`
	Activity    string   `json:"activity"`
	Memories    []string `json:"memories"`
	Description []string `json:"description"`
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	location, ok := h.d.Town.ResolveLocation(req.Location)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown location: "+req.Location)
		return
	}

	now := h.d.Clock.WorldTime()
	stream := memory.NewStream(h.d.Memory)
	for _, m := range req.Memories {
		if m = strings.TrimSpace(m); m != "" {
			stream.Observe(m, now)
		}
	}
	a := agent.New(req.Name, location, req.Activity, req.Description, stream)
	if err := h.d.Agents.Register(a); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrAgentExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	h.save(r.Context(), "agent", func(ctx context.Context, s Store) error { return s.SaveAgent(ctx, a) })
	writeJSON(w, http.StatusCreated, a.View())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.View())
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Agent    string `json:"agent"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (h *Handler) askAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	var req askRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	now := h.d.Clock.WorldTime()
	mems, err := h.recall(r.Context(), a, req.Question, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	answer, err := h.d.Chat.AskQuestion(r.Context(), a.View(), h.d.Driver.Snapshot(now), mems, req.Question)
	if err != nil {
		h.logger.Warn("ask failed", zap.String("agent", a.Name()), zap.Error(err))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Agent: a.Name(), Question: req.Question, Answer: answer})
}

// recall picks the memories most relevant to text. The text is only
// embedded when some memory has an embedding to compare against.
func (h *Handler) recall(ctx context.Context, a *agent.Agent, text string, now time.Time) ([]memory.Memory, error) {
	stream := a.Memory()
	q := memory.Query{Text: text}
	if len(stream.MissingEmbeddings()) < stream.Len() {
		vec, err := h.d.Chat.Embed(ctx, a.Name(), text)
		if err != nil {
			return nil, err
		}
		q.Embedding = vec
	}
	return stream.Top(q, now, h.d.Recall), nil
}

type memoryRequest struct {
	Description string `json:"description"`
}

func (h *Handler) addMemory(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	var req memoryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	m := a.Memory().Observe(strings.TrimSpace(req.Description), h.d.Clock.WorldTime())
	h.save(r.Context(), "memory", func(ctx context.Context, s Store) error { return s.SaveAgent(ctx, a) })
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	ms := a.Memory().All()
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(ms) {
		ms = ms[len(ms)-limit:]
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	if h.d.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "memory archive not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	vec, err := h.d.Chat.Embed(r.Context(), a.Name(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	hits, err := h.d.Archive.Search(r.Context(), a.Name(), vec, uint64(h.d.Recall))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) getRelations(w http.ResponseWriter, r *http.Request) {
	a, ok := h.agent(w, r)
	if !ok {
		return
	}
	if h.d.Relations == nil {
		writeError(w, http.StatusServiceUnavailable, "relation graph not configured")
		return
	}
	rels, err := h.d.Relations.Relations(r.Context(), a.Name())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

type locationRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent"`
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decode(w, r, &req) {
		return
	}
	loc, err := h.d.Town.AddLocation(req.Name, req.Parent)
	if err != nil {
		writeTownError(w, err)
		return
	}
	h.save(r.Context(), "location", func(ctx context.Context, s Store) error { return s.SaveLocation(ctx, loc) })
	writeJSON(w, http.StatusCreated, loc)
}

type objectRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent"` // location
	State  string `json:"state"`
}

func (h *Handler) createObject(w http.ResponseWriter, r *http.Request) {
	var req objectRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	obj, err := h.d.Town.AddObject(strings.TrimSpace(req.Name), req.Parent, req.State)
	if err != nil {
		writeTownError(w, err)
		return
	}
	h.save(r.Context(), "object", func(ctx context.Context, s Store) error {
		return s.SaveObjects(ctx, []world.Object{obj})
	})
	writeJSON(w, http.StatusCreated, obj)
}

// State is the body of GET /api/state.
type State struct {
	Time          time.Time            `json:"time"`
	Tick          int64                `json:"tick"`
	Agents        []agent.View         `json:"agents"`
	Locations     []world.Location     `json:"locations"`
	Objects       []world.Object       `json:"objects"`
	Conversations []conversation.View  `json:"conversations"`
	LastTick      *orchestrator.Report `json:"last_tick,omitempty"`
}

func (h *Handler) state() State {
	agents := h.d.Agents.List()
	views := make([]agent.View, len(agents))
	for i, a := range agents {
		views[i] = a.View()
	}
	s := State{
		Time:          h.d.Clock.WorldTime(),
		Tick:          h.d.Driver.Ticks(),
		Agents:        views,
		Locations:     h.d.Town.Locations(),
		Objects:       h.d.Town.Objects(),
		Conversations: h.conversations(),
	}
	if s.Tick > 0 {
		last := h.d.Driver.LastReport()
		s.LastTick = &last
	}
	return s
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// advanceState moves the clock one time step and runs a tick right away.
func (h *Handler) advanceState(w http.ResponseWriter, r *http.Request) {
	now := h.d.Clock.Advance(h.d.TimeStep)
	var err error
	if h.d.Heartbeat != nil {
		err = h.d.Heartbeat.FireNow(r.Context(), now)
	} else {
		err = h.d.Driver.Tick(r.Context(), now)
	}
	if errors.Is(err, world.ErrTickInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("manual tick failed", zap.Time("world_time", now), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"state": h.state(),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

func (h *Handler) conversations() []conversation.View {
	convs := h.d.Conversations.List()
	views := make([]conversation.View, len(convs))
	for i, c := range convs {
		views[i] = c.View()
	}
	return views
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	views := h.conversations()
	if name := r.URL.Query().Get("agent"); name != "" {
		filtered := views[:0]
		for _, v := range views {
			if v.Agent == name || v.Other == name {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) feedHistory(w http.ResponseWriter, r *http.Request) {
	if h.d.Feed == nil {
		writeJSON(w, http.StatusOK, []feed.Record{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.d.Feed.History(limit))
}

// agent looks up the {name} URL parameter and writes a 404 when missing.
func (h *Handler) agent(w http.ResponseWriter, r *http.Request) (*agent.Agent, bool) {
	name := chi.URLParam(r, "name")
	a, ok := h.d.Agents.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, agent.ErrAgentNotFound.Error()+": "+name)
		return nil, false
	}
	return a, true
}

// save writes through to the store when one is configured. Failures are
// logged; the in-memory town stays authoritative.
func (h *Handler) save(ctx context.Context, what string, fn func(context.Context, Store) error) {
	if h.d.Store == nil {
		return
	}
	if err := fn(ctx, h.d.Store); err != nil {
		h.logger.Warn("persist failed", zap.String("what", what), zap.Error(err))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeTownError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, world.ErrLocationNotFound) {
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}

// writeDomainError maps a classified failure to an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := errs.KindOf(err); ok {
		switch kind {
		case errs.KindTransport, errs.KindMalformedResponse:
			status = http.StatusBadGateway
		case errs.KindAuthOrRateLimit:
			status = http.StatusServiceUnavailable
		case errs.KindDomainInvariant:
			status = http.StatusConflict
		}
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
