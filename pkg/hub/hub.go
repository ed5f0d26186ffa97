package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Giorgiomufen/display-sync/pkg/layout"
	"github.com/Giorgiomufen/display-sync/pkg/media"
	"github.com/Giorgiomufen/display-sync/pkg/protocol"
	"github.com/Giorgiomufen/display-sync/pkg/state"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

const tracerName = "displaysync/hub"

// Hub owns the session state and every connection. All mutations and
// the broadcasts that follow them run on the single goroutine inside
// Run, so every client observes changes in one global order.
type Hub struct {
	cfg      *Config
	store    store.Store
	media    *media.Resolver
	logger   *slog.Logger
	metrics  *metrics
	tracer   trace.Tracer
	upgrader websocket.Upgrader
	handlers map[protocol.MessageType]handlerFunc

	// Owned by the loop.
	state   *state.State
	conns   map[*Conn]struct{}
	library []protocol.LibraryEntry

	joinCh     chan *Conn
	leaveCh    chan *Conn
	inbound    chan frame
	dispatchCh chan func()
	uploads    chan uploadJob
	persistCh  chan persistJob

	snapshot atomic.Pointer[Snapshot]
	nextID   atomic.Uint64
	running  atomic.Bool
	done     chan struct{}
}

type frame struct {
	conn *Conn
	data []byte
}

type handlerFunc func(ctx context.Context, c *Conn, msg *protocol.Inbound) error

// Snapshot is a read-only copy of hub state published after every
// loop iteration, for readers outside the loop.
type Snapshot struct {
	State             *state.State `json:"state"`
	ConnectedDisplays []int        `json:"connectedDisplays"`
	Controls          int          `json:"controls"`
}

// New creates a hub. Call Run to start it.
func New(cfg *Config) *Hub {
	cfg = cfg.withDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := cfg.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	s := state.Default()
	s.DisplayCount = cfg.DisplayCount

	h := &Hub{
		cfg:     cfg,
		store:   st,
		media:   cfg.Media,
		logger:  logger.With("component", "hub"),
		metrics: newMetrics(cfg.Registerer),
		tracer:  tracer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		state:      s,
		conns:      make(map[*Conn]struct{}),
		library:    []protocol.LibraryEntry{},
		joinCh:     make(chan *Conn),
		leaveCh:    make(chan *Conn),
		inbound:    make(chan frame),
		dispatchCh: make(chan func()),
		uploads:    make(chan uploadJob, cfg.UploadQueueSize),
		persistCh:  make(chan persistJob, cfg.PersistQueueSize),
		done:       make(chan struct{}),
	}
	h.handlers = h.routes()
	layout.EnsureDefaults(h.state)
	h.publish()
	return h
}

// Run loads the persisted layout and library listing, then processes
// events until ctx is cancelled. It closes every connection before
// returning.
func (h *Hub) Run(ctx context.Context) error {
	if h.running.Swap(true) {
		return errors.New("hub: already running")
	}

	if err := h.restoreLayout(ctx); err != nil {
		h.logger.Warn("layout restore failed", "error", err)
	}
	if entries, err := h.libraryEntries(ctx); err != nil {
		h.logger.Warn("library load failed", "error", err)
	} else {
		h.library = entries
	}
	h.publish()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.persistWorker(workerCtx)
	}()
	for i := 0; i < h.cfg.UploadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.uploadWorker(workerCtx)
		}()
	}

	h.logger.Info("hub started", "display_count", h.state.DisplayCount)

	for {
		select {
		case c := <-h.joinCh:
			h.conns[c] = struct{}{}
			h.metrics.connections.WithLabelValues(RoleNone.String()).Inc()
			h.logger.Debug("connection accepted", "conn", c.id)

		case c := <-h.leaveCh:
			h.remove(c)

		case f := <-h.inbound:
			h.handleFrame(f.conn, f.data)

		case fn := <-h.dispatchCh:
			h.safeCall(fn)

		case <-ctx.Done():
			close(h.done)
			stopWorkers()
			for c := range h.conns {
				c.close()
				delete(h.conns, c)
			}
			wg.Wait()
			h.logger.Info("hub stopped")
			return nil
		}
		h.publish()
	}
}

// restoreLayout merges the saved layout into state and saves back any
// defaults that had to be added.
func (h *Hub) restoreLayout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PersistTimeout)
	defer cancel()

	saved, err := h.store.LoadLayout(ctx)
	if err != nil {
		return err
	}
	if len(saved) > 0 {
		h.state.CanvasLayout = saved.Clone()
	}
	if added := layout.EnsureDefaults(h.state); len(added) > 0 || len(saved) == 0 {
		return h.store.SaveLayout(ctx, h.state.CanvasLayout)
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket and attaches it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	if _, err := h.Attach(newWSTransport(ws, h.cfg.MaxMessageSize, h.cfg.WriteTimeout)); err != nil {
		h.logger.Debug("attach failed", "error", err)
	}
}

// Attach hands a transport to the hub and starts its pumps. The
// connection starts unregistered.
func (h *Hub) Attach(t Transport) (*Conn, error) {
	c := newConn(h.nextID.Add(1), h, t, h.cfg.SendQueueSize)
	select {
	case h.joinCh <- c:
	case <-h.done:
		t.Close()
		return nil, ErrHubClosed
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

// receive passes a frame to the loop. It reports false once the
// connection or hub has closed.
func (h *Hub) receive(c *Conn, data []byte) bool {
	select {
	case h.inbound <- frame{conn: c, data: data}:
		return true
	case <-c.done:
		return false
	case <-h.done:
		return false
	}
}

// leave asks the loop to remove c.
func (h *Hub) leave(c *Conn) {
	select {
	case h.leaveCh <- c:
	case <-h.done:
	}
}

// call runs fn on the loop.
func (h *Hub) call(ctx context.Context, fn func()) error {
	select {
	case h.dispatchCh <- fn:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.dispatchPanics.Inc()
			h.logger.Error("dispatch panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// handleFrame decodes and authorizes one inbound frame, then runs its
// handler. Rejected frames are dropped without a reply.
func (h *Hub) handleFrame(c *Conn, data []byte) {
	if _, ok := h.conns[c]; !ok {
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		h.metrics.messagesDropped.WithLabelValues(dropMalformed).Inc()
		h.logger.Debug("message dropped", "conn", c.id, "reason", dropMalformed, "error", err)
		return
	}

	registering := msg.Type == protocol.TypeRegisterControl || msg.Type == protocol.TypeRegisterDisplay
	switch {
	case c.role == RoleNone && !registering:
		h.metrics.messagesDropped.WithLabelValues(dropUnregistered).Inc()
		h.logger.Debug("message dropped", "conn", c.id, "type", msg.Type, "reason", dropUnregistered)
		return
	case msg.Type.IsMutation() && c.role != RoleControl:
		h.metrics.messagesDropped.WithLabelValues(dropUnauthorized).Inc()
		h.logger.Debug("message dropped", "conn", c.id, "type", msg.Type, "reason", dropUnauthorized)
		return
	}

	h.metrics.messagesTotal.WithLabelValues(string(msg.Type)).Inc()
	h.logger.Debug("message", "conn", c.id, "type", msg.Type, "role", c.role)

	handler, ok := h.handlers[msg.Type]
	if !ok {
		return
	}
	h.runOp(c, msg, string(msg.Type), func(ctx context.Context) error {
		if err := h.checkLimits(msg); err != nil {
			return err
		}
		return handler(ctx, c, msg)
	})
}

// runOp runs fn inside a span with panic recovery. A returned error is
// reported to c as an error message.
func (h *Hub) runOp(c *Conn, msg *protocol.Inbound, name string, fn func(ctx context.Context) error) {
	ctx, span := h.tracer.Start(context.Background(), "hub."+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("message.type", string(msg.Type)),
			attribute.String("conn.role", c.role.String()),
		),
	)
	defer span.End()
	if c.role == RoleDisplay {
		span.SetAttributes(attribute.Int("display.index", c.displayID))
	}

	defer func() {
		if r := recover(); r != nil {
			h.metrics.dispatchPanics.Inc()
			span.SetStatus(codes.Error, "panic")
			h.logger.Error("dispatch panic",
				"type", msg.Type,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Warn("operation failed", "conn", c.id, "type", msg.Type, "error", err)
		h.reply(c, protocol.NewError(msg.Type, msg.RequestID, err))
	}
}

// setRole binds c to a role and keeps the connection gauge in step.
func (h *Hub) setRole(c *Conn, role Role, displayID int) {
	if c.role != role {
		h.metrics.connections.WithLabelValues(c.role.String()).Dec()
		h.metrics.connections.WithLabelValues(role.String()).Inc()
	}
	c.role = role
	c.displayID = displayID
	h.logger.Info("connection registered", "conn", c.id, "role", role, "display", displayID)
}

// drop forgets c and closes it. It reports whether c was still attached.
func (h *Hub) drop(c *Conn) bool {
	if _, ok := h.conns[c]; !ok {
		return false
	}
	delete(h.conns, c)
	h.metrics.connections.WithLabelValues(c.role.String()).Dec()
	c.close()
	return true
}

// remove drops c. Registered connections leaving trigger a roster
// broadcast.
func (h *Hub) remove(c *Conn) {
	if !h.drop(c) {
		return
	}
	if c.role == RoleNone {
		h.logger.Debug("connection closed", "conn", c.id)
		return
	}
	h.logger.Info("connection closed", "conn", c.id, "role", c.role, "display", c.displayID)
	h.broadcastRoster()
}

// roster returns the sorted, deduplicated indices of connected displays.
func (h *Hub) roster() []int {
	ids := []int{}
	for c := range h.conns {
		if c.role == RoleDisplay && !slices.Contains(ids, c.displayID) {
			ids = append(ids, c.displayID)
		}
	}
	slices.Sort(ids)
	return ids
}

func (h *Hub) publish() {
	controls := 0
	for c := range h.conns {
		if c.role == RoleControl {
			controls++
		}
	}
	h.snapshot.Store(&Snapshot{
		State:             h.state.Clone(),
		ConnectedDisplays: h.roster(),
		Controls:          controls,
	})
}

// Snapshot returns the state as of the last processed event. Callers
// must not modify it.
func (h *Hub) Snapshot() *Snapshot {
	return h.snapshot.Load()
}

// State returns a private copy of the current state.
func (h *Hub) State() *state.State {
	return h.snapshot.Load().State.Clone()
}

// Roster returns the connected display indices.
func (h *Hub) Roster() []int {
	return slices.Clone(h.snapshot.Load().ConnectedDisplays)
}

// Store returns the library store.
func (h *Hub) Store() store.Store {
	return h.store
}

// Library reads the library listing in creation order, without bodies.
// It queries the store directly and is safe to call from any goroutine.
func (h *Hub) Library(ctx context.Context) ([]protocol.LibraryEntry, error) {
	return h.libraryEntries(ctx)
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
