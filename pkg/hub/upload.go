package hub

import (
	"context"

	"github.com/Giorgiomufen/display-sync/pkg/protocol"
	"github.com/Giorgiomufen/display-sync/pkg/state"
)

type uploadJob struct {
	conn   *Conn
	msg    *protocol.Inbound
	prefix string
}

// startUpload queues msg's image for a worker. It never blocks the loop.
func (h *Hub) startUpload(c *Conn, msg *protocol.Inbound, prefix string) error {
	if h.media == nil {
		return ErrMediaDisabled
	}
	select {
	case h.uploads <- uploadJob{conn: c, msg: msg, prefix: prefix}:
		return nil
	default:
		return ErrUploadQueueFull
	}
}

// uploadWorker stores images off the loop and hands results back to it.
func (h *Hub) uploadWorker(ctx context.Context) {
	for {
		select {
		case job := <-h.uploads:
			url, err := h.media.Resolve(ctx, job.prefix, job.msg.Image, job.msg.URL)
			finish := func() {
				h.runOp(job.conn, job.msg, "upload_done", func(context.Context) error {
					return h.finishUpload(job, url, err)
				})
			}
			if h.call(ctx, finish) != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) finishUpload(job uploadJob, url string, err error) error {
	c, msg := job.conn, job.msg
	switch msg.Type {
	case protocol.TypeCanvasUpload:
		return h.finishCanvasUpload(c, msg, url, err)
	case protocol.TypeUploadSceneImage:
		if err != nil {
			return err
		}
		h.reply(c, &protocol.ImageUploaded{Type: protocol.TypeSceneImageUploaded, URL: url, RequestID: msg.RequestID})
	default:
		if err != nil {
			return err
		}
		h.reply(c, &protocol.ImageUploaded{Type: protocol.TypeImageUploaded, URL: url, RequestID: msg.RequestID})
	}
	return nil
}

// finishCanvasUpload applies the optional layout and, on success, sets
// the image as canvas content. Both land in one state broadcast.
func (h *Hub) finishCanvasUpload(c *Conn, msg *protocol.Inbound, url string, uploadErr error) error {
	var touched []string
	if msg.CanvasLayout != nil {
		h.state.CanvasLayout = msg.CanvasLayout.Clone()
		touched = append(touched, "canvasLayout")
	}
	if uploadErr == nil {
		h.state.CanvasContent = &state.Content{Type: "image", URL: url}
		touched = append(touched, "canvasContent")
	}

	var commitErr error
	if len(touched) > 0 {
		commitErr = h.commit(c, msg, touched...)
	}
	if uploadErr != nil {
		h.reply(c, h.syncStatus(msg, protocol.SyncFailed))
		return uploadErr
	}
	h.reply(c, h.syncStatus(msg, protocol.SyncComplete))
	return commitErr
}

func (h *Hub) syncStatus(msg *protocol.Inbound, phase string) *protocol.SyncStatus {
	return &protocol.SyncStatus{
		Type:      protocol.TypeSyncStatus,
		Phase:     phase,
		Op:        msg.Type,
		RequestID: msg.RequestID,
		Displays:  len(h.roster()),
	}
}
