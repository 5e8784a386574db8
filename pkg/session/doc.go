// Package session owns the shared state of every collaborative canvas.
//
// A Session is a single-goroutine actor: every mutation of its drawing
// history, undo/redo stacks and participant set is handed to the actor
// through a bounded queue and applied one at a time, in arrival order.
// Different sessions run in parallel and never share state.
//
// # Registry
//
// The Registry maps session ids to live actors. It creates a session on
// the first join to an unknown id and forgets it the moment its last
// participant leaves:
//
//	router := session.NewRouter(gateway, logger, m)
//	registry := session.NewRegistry(router, session.DefaultConfig(), logger, m)
//
//	membership, drawings, err := registry.Join(ctx, "s1", session.Participant{
//	    UserID:       "u1",
//	    DisplayName:  "ann",
//	    ConnectionID: connID,
//	})
//	defer membership.Revoke(context.Background())
//
// A session that empties out is terminated; a later join to the same id
// gets a fresh, empty session.
//
// # History
//
// Drawings are append-only except for undo, redo and clear. Undo removes
// the most recent drawing (or restores the canvas wiped by the most recent
// clear), redo re-applies the most recently undone step, and any new
// drawing discards the redo stack.
//
// # Broadcast
//
// The Router fans an encoded event out to a set of connections through a
// Sender. Delivery is best-effort and never blocks the actor: a recipient
// whose queue is full simply misses droppable events.
package session
