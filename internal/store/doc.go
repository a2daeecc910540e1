// Package store provides SQLite-backed persistence for tapgate.
//
// Two row families live here: users (username plus bcrypt password hash)
// and cards (the 1:1 card-to-user binding with its anti-replay counter and
// optional learned authenticator).
//
// The bijective binding invariant is enforced twice: Assign runs its
// lookup-then-write inside a transaction, and UNIQUE constraints on both
// cards.user_id and cards.card_id reject anything that slips through a
// race at the storage layer.
package store
