// Package hub is the synchronization core: it tracks every client
// connection, binds each to the control or a display role, applies
// control mutations to the single session state and fans the result out
// to every registered connection.
//
// # Ordering
//
// One goroutine (Run) owns the state, the connection set and the
// library writes. Each connection has a read pump that hands frames to
// that goroutine and a write pump that drains a bounded send queue.
// A mutation and the broadcast that follows it happen in one step, so
// every client sees changes in the same order and nobody observes a
// state that wasn't broadcast.
//
// Broadcasts never block on a client. When a connection's queue is full
// or its write fails, the hub drops it and tells everyone the roster
// changed.
//
// Image uploads are decoded and stored by worker goroutines; the result
// re-enters the loop as an ordinary event.
//
// # Usage
//
//	h := hub.New(&hub.Config{Store: st, Media: resolver})
//	go h.Run(ctx)
//	http.Handle("/", h)
package hub
