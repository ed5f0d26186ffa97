package hub

import (
	"context"

	"github.com/Giorgiomufen/display-sync/pkg/protocol"
)

// toAll matches every registered connection.
func toAll(*Conn) bool { return true }

// broadcast encodes msg once and queues it on every registered
// connection matching match. Queuing never blocks: a connection whose
// queue is full is removed after the fan-out, so one slow client cannot
// hold up the rest. It returns the number of connections reached.
func (h *Hub) broadcast(msg any, match func(*Conn) bool) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("encode failed", "type", protocol.TypeOf(msg), "error", err)
		return 0
	}

	var (
		sent   int
		failed []*Conn
	)
	for c := range h.conns {
		if c.role == RoleNone || !match(c) {
			continue
		}
		if c.enqueue(data) {
			sent++
		} else {
			failed = append(failed, c)
		}
	}

	h.metrics.broadcastsTotal.WithLabelValues(string(protocol.TypeOf(msg))).Inc()
	h.metrics.broadcastRecipient.Observe(float64(sent))

	for _, c := range failed {
		h.metrics.messagesDropped.WithLabelValues(dropQueueFull).Inc()
		h.logger.Warn("broadcast dropped", "conn", c.id, "role", c.role, "type", protocol.TypeOf(msg))
		h.remove(c)
	}
	return sent
}

// reply queues msg for c alone. It is a no-op if c has left.
func (h *Hub) reply(c *Conn, msg any) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("encode failed", "type", protocol.TypeOf(msg), "error", err)
		return
	}
	if !c.enqueue(data) {
		h.metrics.messagesDropped.WithLabelValues(dropQueueFull).Inc()
		h.logger.Warn("reply dropped", "conn", c.id, "type", protocol.TypeOf(msg))
		h.remove(c)
	}
}

func (h *Hub) broadcastState() {
	h.broadcast(protocol.NewStateUpdate(h.state), toAll)
}

func (h *Hub) broadcastRoster() {
	h.broadcast(protocol.NewDisplaysUpdate(h.roster()), toAll)
}

// setLibrary replaces the cached listing and broadcasts it.
func (h *Hub) setLibrary(entries []protocol.LibraryEntry) {
	h.library = entries
	h.broadcast(protocol.NewLibraryUpdate(entries), toAll)
}

// libraryEntries reads the listing from the store. It runs off the loop.
func (h *Hub) libraryEntries(ctx context.Context) ([]protocol.LibraryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.PersistTimeout)
	defer cancel()

	items, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}
	h.metrics.libraryItems.Set(float64(len(items)))

	entries := make([]protocol.LibraryEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, protocol.LibraryEntry{
			ID:        it.ID,
			Name:      it.Name,
			CreatedAt: it.CreatedAt,
			Size:      it.Size,
		})
	}
	return entries, nil
}

// sendInit sends the full snapshot to c. The library comes from the
// listing cached on the loop, so registration never waits on the store.
func (h *Hub) sendInit(c *Conn) {
	msg := &protocol.Init{
		Type:              protocol.TypeInit,
		State:             h.state,
		ConnectedDisplays: h.roster(),
		Library:           h.library,
		LanIP:             h.cfg.LanIP,
		HTTPPort:          h.cfg.HTTPPort,
	}
	if c.role == RoleDisplay {
		msg.DisplayID = c.displayID
	}
	h.reply(c, msg)
}
