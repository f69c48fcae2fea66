// Package entity holds the client-side records for chats, users, and
// messages, plus the per-connection cache that keeps their last-known
// representation.
//
// Entities are value records replaced wholesale on update. The only
// exception is the explicit patch path used by partial-update pushes,
// where just the fields present in the payload overwrite the cached
// record. The cache is guarded so that readers always observe complete
// entities even while the connection's read loop is writing.
package entity
