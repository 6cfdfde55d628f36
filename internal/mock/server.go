// Package mock serves a fake NodePass management API: instance CRUD plus the
// instance event stream. It backs the tests and `nodepanel mock`.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NodePassProject/nodepass-panel/internal/client"
	"github.com/google/uuid"
)

// Frame is one event as written to SSE subscribers.
type Frame struct {
	Type     string           `json:"type"`
	Time     time.Time        `json:"time"`
	Instance *client.Instance `json:"instance,omitempty"`
	Logs     *string          `json:"logs,omitempty"`
}

// Server is an in-memory NodePass API.
type Server struct {
	token  string
	logger *slog.Logger

	mu        sync.Mutex
	instances map[string]*client.Instance
	order     []string
	subs      map[chan []byte]struct{}
}

// NewServer creates an empty server that requires token in X-API-Key.
func NewServer(token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		token:     token,
		logger:    logger,
		instances: make(map[string]*client.Instance),
		subs:      make(map[chan []byte]struct{}),
	}
}

// Seed registers a handful of demo instances.
func (s *Server) Seed() {
	for _, u := range []string{
		"server://:10101/127.0.0.1:8080?tls=1",
		"client://tunnel.example.com:10101/127.0.0.1:3000",
		"server://:10202/127.0.0.1:5432",
	} {
		s.add(u)
	}
}

// Instances returns a copy of every instance in creation order.
func (s *Server) Instances() []client.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]client.Instance, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.instances[id])
	}
	return out
}

// Subscribers reports how many event streams are open.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Handler returns the API routes with X-API-Key enforcement.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /instances", s.handleList)
	mux.HandleFunc("POST /instances", s.handleCreate)
	mux.HandleFunc("GET /instances/{id}", s.handleGet)
	mux.HandleFunc("PATCH /instances/{id}", s.handleControl)
	mux.HandleFunc("DELETE /instances/{id}", s.handleDelete)
	return s.authorize(mux)
}

// Run drives traffic counters and log lines until ctx is cancelled.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Publish writes a raw frame body to every subscriber. It lets tests inject
// arbitrary (including malformed) frames.
func (s *Server) Publish(raw string) {
	s.broadcast([]byte(raw))
}

// Shutdown announces a server shutdown on every open stream.
func (s *Server) Shutdown() {
	s.publishFrame(Frame{Type: "shutdown", Time: time.Now()})
}

// Log publishes a log line attributed to the instance with the given id.
func (s *Server) Log(id, line string) {
	s.mu.Lock()
	inst, ok := s.instances[id]
	var cp client.Instance
	if ok {
		cp = *inst
	}
	s.mu.Unlock()
	f := Frame{Type: "log", Time: time.Now(), Logs: &line}
	if ok {
		f.Instance = &cp
	}
	s.publishFrame(f)
}

func (s *Server) tick() {
	s.mu.Lock()
	var updated []client.Instance
	for _, id := range s.order {
		inst := s.instances[id]
		if inst.Status != client.StatusRunning {
			continue
		}
		inst.TCPRX += uint64(rand.Intn(64 << 10))
		inst.TCPTX += uint64(rand.Intn(32 << 10))
		inst.UDPRX += uint64(rand.Intn(4 << 10))
		inst.UDPTX += uint64(rand.Intn(4 << 10))
		updated = append(updated, *inst)
	}
	s.mu.Unlock()

	for i := range updated {
		inst := updated[i]
		s.publishFrame(Frame{Type: "update", Time: time.Now(), Instance: &inst})
		line := fmt.Sprintf("%s \x1b[32mINFO\x1b[0m Traffic stats: TCP_RX=%d|TCP_TX=%d|UDP_RX=%d|UDP_TX=%d",
			time.Now().Format("2006-01-02 15:04:05.000"), inst.TCPRX, inst.TCPTX, inst.UDPRX, inst.UDPTX)
		s.publishFrame(Frame{Type: "log", Time: time.Now(), Instance: &inst, Logs: &line})
	}
}

func (s *Server) add(tunnelURL string) (client.Instance, error) {
	typ, err := instanceType(tunnelURL)
	if err != nil {
		return client.Instance{}, err
	}
	inst := &client.Instance{
		ID:     uuid.NewString()[:8],
		Type:   typ,
		Status: client.StatusRunning,
		URL:    tunnelURL,
	}
	s.mu.Lock()
	s.instances[inst.ID] = inst
	s.order = append(s.order, inst.ID)
	cp := *inst
	s.mu.Unlock()
	return cp, nil
}

func instanceType(tunnelURL string) (client.InstanceType, error) {
	switch {
	case strings.HasPrefix(tunnelURL, "server://"):
		return client.TypeServer, nil
	case strings.HasPrefix(tunnelURL, "client://"):
		return client.TypeClient, nil
	}
	return "", fmt.Errorf("unsupported tunnel url %q", tunnelURL)
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get(client.APIKeyHeader) != s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	initial := make([]client.Instance, 0, len(s.order))
	for _, id := range s.order {
		initial = append(initial, *s.instances[id])
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	s.logger.Debug("event stream opened", "remote", r.RemoteAddr)
	_, _ = fmt.Fprint(w, "retry: 5000\n\n")
	for i := range initial {
		_, _ = w.Write(encodeFrame(Frame{Type: "initial", Time: time.Now(), Instance: &initial[i]}))
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed", "remote", r.RemoteAddr)
			return
		case data := <-ch:
			_, _ = w.Write(data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Instances())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	inst, ok := s.instances[r.PathValue("id")]
	var cp client.Instance
	if ok {
		cp = *inst
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	inst, err := s.add(body.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.publishFrame(Frame{Type: "create", Time: time.Now(), Instance: &inst})
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	action, err := client.ParseAction(body.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	inst, ok := s.instances[r.PathValue("id")]
	var cp client.Instance
	if ok {
		switch action {
		case client.ActionStop:
			inst.Status = client.StatusStopped
		default:
			inst.Status = client.StatusRunning
		}
		cp = *inst
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	s.publishFrame(Frame{Type: "update", Time: time.Now(), Instance: &cp})
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	inst, ok := s.instances[id]
	var cp client.Instance
	if ok {
		cp = *inst
		delete(s.instances, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	s.publishFrame(Frame{Type: "delete", Time: time.Now(), Instance: &cp})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publishFrame(f Frame) {
	s.broadcast(encodeFrame(f))
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- data:
		default:
			s.logger.Warn("dropping frame for slow subscriber")
		}
	}
}

func encodeFrame(f Frame) []byte {
	data, _ := json.Marshal(f)
	return []byte("event: instance\ndata: " + string(data) + "\n\n")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
