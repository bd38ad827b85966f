// Package mockserver is a scripted stand-in for the game design pipeline
// backend. It serves the same HTTP and WebSocket surface and replays a
// scenario of events, pausing at gates until the dashboard replies.
package mockserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"ludexdash/internal/protocol"
)

const (
	ServiceName  = "LUDEX Game Design API"
	defaultGenre = "Unknown"
)

var (
	ErrRunActive     = errors.New("a run is already in progress")
	ErrDecisionWait  = errors.New("timed out waiting for a decision")
	errRunSuperseded = errors.New("run cancelled")
)

type Options struct {
	// StepDelay is the pause between scenario emissions.
	StepDelay time.Duration
	// DecisionTimeout bounds each wait at a gate or a question round.
	DecisionTimeout time.Duration
	Scenario        ScenarioFunc
	// AccessLog enables the echo request logger.
	AccessLog bool
	Logf      func(format string, args ...any)
}

type StartRequest struct {
	Concept string `json:"concept"`
	Genre   string `json:"genre"`
}

type StartResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

type run struct {
	id        string
	cancel    context.CancelFunc
	decisions chan protocol.Reply
	done      chan struct{}
}

// Server is the mock backend. Handler exposes it for httptest; Start binds
// it to an address.
type Server struct {
	opts     Options
	logf     func(format string, args ...any)
	echo     *echo.Echo
	upgrader websocket.Upgrader
	hub      *hub

	mu      sync.Mutex
	active  *run
	last    *run
	replies []protocol.Reply
	metrics protocol.Metrics
	agents  map[string]struct{}
}

func New(opts Options) *Server {
	if opts.StepDelay < 0 {
		opts.StepDelay = 0
	}
	if opts.DecisionTimeout <= 0 {
		opts.DecisionTimeout = 10 * time.Minute
	}
	if opts.Scenario == nil {
		opts.Scenario = DefaultScenario
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	s := &Server{
		opts: opts,
		logf: logf,
		hub:  newHub(logf),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		agents: make(map[string]struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if opts.AccessLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())
	e.GET("/health", s.handleHealth)
	e.POST("/start", s.handleStart)
	e.GET("/metrics", s.handleMetrics)
	e.GET("/ws", s.handleWebSocket)
	s.echo = e
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown cancels the active run, drops all clients and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r != nil {
		r.cancel()
	}
	s.hub.closeAll()
	return s.echo.Shutdown(ctx)
}

// Replies returns every well-formed reply received so far, in arrival order.
func (s *Server) Replies() []protocol.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Reply(nil), s.replies...)
}

func (s *Server) Metrics() protocol.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Server) Clients() int {
	return s.hub.count()
}

// WaitRun blocks until the most recently started run has finished.
func (s *Server) WaitRun(ctx context.Context) error {
	s.mu.Lock()
	r := s.last
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Concept = strings.TrimSpace(req.Concept)
	if req.Concept == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "concept is required")
	}
	if req.Genre = strings.TrimSpace(req.Genre); req.Genre == "" {
		req.Genre = defaultGenre
	}

	id, err := s.startRun(req.Concept, req.Genre)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, StartResponse{Status: "started", Message: "Generation queued", RunID: id})
}

func (s *Server) handleMetrics(c echo.Context) error {
	m := s.Metrics()
	if m.TotalExecutions == 0 {
		return c.JSON(http.StatusOK, map[string]int{"total_executions": 0})
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logf("websocket upgrade failed: %v", err)
		return err
	}
	cl := newClient(ws)
	s.hub.add(cl)
	ws.SetReadLimit(maxMessageSize)

	go s.writePump(cl)
	go s.readPump(cl)
	return nil
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logf("websocket read error: %v", err)
			}
			return
		}
		s.handleReply(c, message)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logf("websocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleReply records a dashboard reply, acknowledges it to every client
// and hands it to the active run.
func (s *Server) handleReply(c *client, data []byte) {
	reply, err := protocol.DecodeReply(data)
	if err != nil {
		s.logf("rejected reply from %s: %v", c.id, err)
		if frame, encErr := protocol.Encode(protocol.RunError{Message: err.Error()}); encErr == nil {
			s.hub.sendTo(c, frame)
		}
		return
	}

	s.mu.Lock()
	s.replies = append(s.replies, reply)
	r := s.active
	s.mu.Unlock()
	s.logf("reply %s gate=%q", reply.Type, reply.Gate)

	var ack protocol.Ack
	switch reply.Type {
	case protocol.TypeDirectorAnswer:
		ack = protocol.Ack{Kind: protocol.TypeDirectorAnswerReceived, Status: "processing"}
	case protocol.TypeGateApprove:
		ack = protocol.Ack{Kind: protocol.TypeGateApproved, Gate: reply.Gate}
	case protocol.TypeGateReject:
		ack = protocol.Ack{Kind: protocol.TypeGateRejected, Status: "cancelled"}
	}
	s.emit(ack)

	if r == nil {
		return
	}
	select {
	case r.decisions <- reply:
	case <-r.done:
	default:
		s.logf("run %s decision queue full, dropping %s", r.id, reply.Type)
	}
}

func (s *Server) startRun(concept, genre string) (string, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrRunActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        "run_" + uuid.NewString()[:8],
		cancel:    cancel,
		decisions: make(chan protocol.Reply, 8),
		done:      make(chan struct{}),
	}
	s.active = r
	s.last = r
	s.mu.Unlock()

	steps := s.opts.Scenario(concept, genre)
	s.logf("run %s started concept=%q genre=%s steps=%d", r.id, concept, genre, len(steps))
	go s.play(ctx, r, steps)
	return r.id, nil
}

func (s *Server) play(ctx context.Context, r *run, steps []Step) {
	defer func() {
		r.cancel()
		s.mu.Lock()
		if s.active == r {
			s.active = nil
		}
		s.mu.Unlock()
		close(r.done)
	}()

	for _, step := range steps {
		if !sleepCtx(ctx, s.opts.StepDelay) {
			return
		}
		if step.Metrics {
			s.emit(protocol.MetricsUpdate{Metrics: s.Metrics()})
			continue
		}
		if step.Event == nil {
			continue
		}
		s.emit(step.Event)

		switch evt := step.Event.(type) {
		case protocol.ToolCallCompleted:
			s.charge(evt, step)
		case protocol.GateReached:
			reply, err := s.await(ctx, r, protocol.TypeGateApprove, protocol.TypeGateReject)
			if err != nil {
				s.abort(r, err)
				return
			}
			if reply.Type == protocol.TypeGateReject {
				s.logf("run %s rejected at gate %s", r.id, evt.GateName)
				return
			}
		case protocol.DirectorQuestions:
			if _, err := s.await(ctx, r, protocol.TypeDirectorAnswer); err != nil {
				s.abort(r, err)
				return
			}
		}
	}
	s.logf("run %s finished", r.id)
}

// await blocks until a reply of one of the wanted types arrives. Other
// replies are ignored.
func (s *Server) await(ctx context.Context, r *run, wanted ...string) (protocol.Reply, error) {
	timer := time.NewTimer(s.opts.DecisionTimeout)
	defer timer.Stop()
	for {
		select {
		case reply := <-r.decisions:
			for _, w := range wanted {
				if reply.Type == w {
					return reply, nil
				}
			}
			s.logf("run %s ignoring %s while waiting for %s", r.id, reply.Type, strings.Join(wanted, "|"))
		case <-timer.C:
			return protocol.Reply{}, ErrDecisionWait
		case <-ctx.Done():
			return protocol.Reply{}, errRunSuperseded
		}
	}
}

func (s *Server) abort(r *run, err error) {
	s.logf("run %s aborted: %v", r.id, err)
	if errors.Is(err, errRunSuperseded) {
		return
	}
	s.emit(protocol.RunError{Message: err.Error()})
	s.emit(protocol.RunStatus{Status: protocol.StatusFailed, Message: err.Error()})
}

func (s *Server) charge(evt protocol.ToolCallCompleted, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &s.metrics
	m.TotalExecutions++
	if evt.Failed() {
		m.Failed++
	} else {
		m.Completed++
	}
	m.TotalLatencyMS += step.LatencyMS
	m.AvgLatencyMS = m.TotalLatencyMS / float64(m.TotalExecutions)
	m.TotalTokens += step.Tokens
	if evt.Agent != "" {
		s.agents[evt.Agent] = struct{}{}
	}
	if n := len(s.agents); n > 0 {
		m.AvgTokensPerAgent = float64(m.TotalTokens) / float64(n)
	}
}

func (s *Server) emit(evt protocol.Event) {
	frame, err := protocol.Encode(evt)
	if err != nil {
		s.logf("encode %s: %v", evt.EventType(), err)
		return
	}
	n := s.hub.broadcast(frame)
	s.logf("broadcast %s to %d client(s)", evt.EventType(), n)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
