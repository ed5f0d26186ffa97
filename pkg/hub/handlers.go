package hub

import (
	"context"
	"fmt"
	"slices"

	"github.com/Giorgiomufen/display-sync/pkg/layout"
	"github.com/Giorgiomufen/display-sync/pkg/protocol"
	"github.com/Giorgiomufen/display-sync/pkg/state"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

// Object name prefix for scene background uploads.
const sceneImagePrefix = "scene_"

func (h *Hub) routes() map[protocol.MessageType]handlerFunc {
	return map[protocol.MessageType]handlerFunc{
		protocol.TypeRegisterControl:    h.handleRegisterControl,
		protocol.TypeRegisterDisplay:    h.handleRegisterDisplay,
		protocol.TypeUpdateState:        h.handleUpdateState,
		protocol.TypeSetCanvasMode:      h.handleSetCanvasMode,
		protocol.TypeUpdateCanvasLayout: h.handleUpdateCanvasLayout,
		protocol.TypeCanvasElements:     h.handleCanvasElements,
		protocol.TypeCanvasUpload:       h.handleCanvasUpload,
		protocol.TypeCanvasContent:      h.handleCanvasContent,
		protocol.TypeUploadImage:        h.handleUploadImage,
		protocol.TypeUploadSceneImage:   h.handleUploadImage,
		protocol.TypeSaveToLibrary:      h.handleSaveToLibrary,
		protocol.TypeDeleteFromLibrary:  h.handleDeleteFromLibrary,
		protocol.TypeLoadFromLibrary:    h.handleLoadFromLibrary,
		protocol.TypeBroadcastHTML:      h.handleBroadcastHTML,
	}
}

func (h *Hub) handleRegisterControl(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	wasDisplay := c.role == RoleDisplay
	h.setRole(c, RoleControl, 0)
	h.sendInit(c)
	if wasDisplay {
		h.broadcastRoster()
	}
	return nil
}

// handleRegisterDisplay binds c to a display index. Any other connection
// registered under the same index is a stale handle and is closed.
func (h *Hub) handleRegisterDisplay(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	id := *msg.DisplayID
	h.setRole(c, RoleDisplay, id)
	for other := range h.conns {
		if other != c && other.role == RoleDisplay && other.displayID == id {
			h.logger.Info("stale display replaced", "conn", other.id, "display", id, "by", c.id)
			h.drop(other)
		}
	}
	h.sendInit(c)
	h.broadcastRoster()
	return nil
}

// checkLimits applies the configured display cap, which can be lower
// than the one Decode enforces.
func (h *Hub) checkLimits(msg *protocol.Inbound) error {
	limit := h.cfg.MaxDisplayCount
	if p := msg.State; p != nil {
		if p.DisplayCount != nil && *p.DisplayCount > limit {
			return &state.FieldError{Field: "displayCount", Reason: fmt.Sprintf("must be <= %d", limit)}
		}
		if p.CanvasLayout != nil {
			if err := p.CanvasLayout.Validate(limit); err != nil {
				return err
			}
		}
	}
	if msg.CanvasLayout != nil {
		return msg.CanvasLayout.Validate(limit)
	}
	return nil
}

func (h *Hub) handleUpdateState(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	touched := h.state.Apply(msg.State)
	return h.commit(c, msg, touched...)
}

func (h *Hub) handleSetCanvasMode(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	h.state.CanvasMode = *msg.CanvasMode
	return h.commit(c, msg, "canvasMode")
}

func (h *Hub) handleUpdateCanvasLayout(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	h.state.CanvasLayout = msg.CanvasLayout.Clone()
	return h.commit(c, msg, "canvasLayout")
}

func (h *Hub) handleCanvasElements(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	h.state.CanvasElements = slices.Clone(msg.Elements)
	touched := []string{"canvasElements"}
	if msg.CanvasLayout != nil {
		h.state.CanvasLayout = msg.CanvasLayout.Clone()
		touched = append(touched, "canvasLayout")
	}
	return h.commit(c, msg, touched...)
}

func (h *Hub) handleCanvasContent(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	var content *state.Content
	if msg.Content != nil {
		cp := *msg.Content
		content = &cp
	}
	h.state.CanvasContent = content
	touched := []string{"canvasContent"}
	if msg.CanvasLayout != nil {
		h.state.CanvasLayout = msg.CanvasLayout.Clone()
		touched = append(touched, "canvasLayout")
	}
	return h.commit(c, msg, touched...)
}

// handleCanvasUpload passes a remote URL straight through; inline
// images go to an upload worker and finish in finishCanvasUpload.
func (h *Hub) handleCanvasUpload(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	if msg.Image == "" {
		return h.finishCanvasUpload(c, msg, msg.URL, nil)
	}
	if err := h.startUpload(c, msg, ""); err != nil {
		h.reply(c, h.syncStatus(msg, protocol.SyncFailed))
		return err
	}
	h.reply(c, h.syncStatus(msg, protocol.SyncStarted))
	return nil
}

func (h *Hub) handleUploadImage(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	prefix := ""
	if msg.Type == protocol.TypeUploadSceneImage {
		prefix = sceneImagePrefix
	}
	return h.startUpload(c, msg, prefix)
}

// handleSaveToLibrary stores the item on the persistence worker; the
// listing is broadcast when the write lands.
func (h *Hub) handleSaveToLibrary(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	name, html := msg.NameOrEmpty(), msg.HTML
	var item *store.Item
	save := func(ctx context.Context) (err error) {
		item, err = h.store.Save(ctx, name, html)
		if err != nil {
			return fmt.Errorf("save library item: %w", err)
		}
		return nil
	}
	return h.persist(h.libraryJob(save, func(err error) {
		h.runOp(c, msg, "save_done", func(context.Context) error {
			if item != nil {
				h.logger.Info("library item saved", "id", item.ID, "name", item.Name, "size", item.Size)
			}
			return err
		})
	}))
}

func (h *Hub) handleDeleteFromLibrary(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	id := msg.ID
	del := func(ctx context.Context) error {
		if err := h.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete library item: %w", err)
		}
		return nil
	}
	return h.persist(h.libraryJob(del, func(err error) {
		h.runOp(c, msg, "delete_done", func(context.Context) error { return err })
	}))
}

// handleLoadFromLibrary reads the item on the persistence worker and
// copies it into state by value back on the loop. A missing item
// changes nothing.
func (h *Hub) handleLoadFromLibrary(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	id := msg.ID
	return h.persist(func(ctx context.Context) func() {
		item, err := h.store.Get(ctx, id)
		return func() {
			h.runOp(c, msg, "load_done", func(context.Context) error {
				if err != nil {
					return fmt.Errorf("load library item: %w", err)
				}
				if item == nil {
					h.logger.Debug("library item not found", "id", id)
					return nil
				}
				h.state.Mode = state.ModeCustom
				h.state.CustomHTML = item.HTMLContent
				h.state.CustomName = item.Name
				return h.commit(c, msg, "mode", "customHtml", "customName")
			})
		}
	})
}

func (h *Hub) handleBroadcastHTML(ctx context.Context, c *Conn, msg *protocol.Inbound) error {
	h.state.Mode = state.ModeCustom
	h.state.CustomHTML = msg.HTML
	h.state.CustomName = msg.NameOrEmpty()
	return h.commit(c, msg, "mode", "customHtml", "customName")
}

// commit finishes a state mutation requested by msg: it fills layout
// defaults when the display count or layout changed, broadcasts the new
// state, and then queues the layout for the store if it changed.
func (h *Hub) commit(c *Conn, msg *protocol.Inbound, touched ...string) error {
	layoutChanged := slices.Contains(touched, "canvasLayout")
	if layoutChanged || slices.Contains(touched, "displayCount") {
		if added := layout.EnsureDefaults(h.state); len(added) > 0 {
			layoutChanged = true
		}
	}

	h.broadcastState()

	if !layoutChanged {
		return nil
	}
	return h.saveLayout(c, msg)
}

// ImportLibraryItem saves an item on behalf of a non-connection source
// such as the drop folder. It shares the persistence queue with
// save_to_library and returns once the listing has been broadcast.
func (h *Hub) ImportLibraryItem(ctx context.Context, name, html string) (*store.Item, error) {
	type result struct {
		item *store.Item
		err  error
	}
	ch := make(chan result, 1)
	var item *store.Item
	save := func(ctx context.Context) (err error) {
		item, err = h.store.Save(ctx, name, html)
		if err != nil {
			return fmt.Errorf("save library item: %w", err)
		}
		return nil
	}
	err := h.submitPersist(ctx, h.libraryJob(save, func(err error) {
		if item != nil {
			h.logger.Info("library item imported", "id", item.ID, "name", item.Name, "size", item.Size)
		}
		ch <- result{item, err}
	}))
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.item, r.err
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
