// Package core implements the client-side realtime synchronisation core of
// roomtodo.
//
// The core keeps a client's in-memory view of one room's todos and of the
// user's connection graph consistent with a RemoteStore that other clients
// write to concurrently.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Core.Run owns both local caches. Remote fetches, subscriptions and
// change-feed pumps run in helper goroutines and post their results back to
// the loop through an unbounded FIFO queue, so cache writes never race.
//
// Components:
//   - RoomSelector: which room (owner id) is being viewed.
//   - TodoCache: the active room's todos, Empty -> Loading -> Synced <->
//     Reconciling. Events that arrive while the initial fetch is in flight
//     are buffered and replayed after the full replace.
//   - Resolver: the connection graph (users I granted, users granting me).
//   - Dispatcher: create/update/delete writes. The change-feed echo is the
//     only path by which a write reaches the cache.
//
// Room generations:
// Every room activation increments a generation counter. Fetch results,
// subscriptions and stream notices carry the generation they were started
// under; anything from an older generation is discarded (subscriptions are
// closed on arrival).
//
// Stream drops:
// A change feed that ends without being closed by the core is recorded as
// a STREAM error and re-established with exponential backoff, followed by a
// full refetch.
package core
