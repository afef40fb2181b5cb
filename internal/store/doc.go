// Package store provides persistent storage for entropy-chat using SQLite.
//
// # Architecture
//
// The Store interface covers the whole workspace: spaces, conversations,
// messages, settings and sealed provider credentials. SQLiteStore implements
// it on a single database file opened through modernc.org/sqlite.
//
// Every mutating operation runs in one transaction while holding the store's
// writer lock, so the ordering invariants below are never observable in a
// half-applied state. Reads do not take the lock.
//
// # Data Models
//
//   - Space: named partition of conversations with a dense sort order 0..N-1.
//     Exactly one space (space_general) is the default.
//   - Conversation: chat thread in one space. Pinned conversations in a space
//     carry pinned_order values forming exactly 1..k.
//   - Message: append-only turn, listed by (created_at, rowid).
//
// # SQLite Configuration
//
// Each pooled connection opens with these pragmas:
//
//	foreign_keys(1)
//	busy_timeout(5000)
//	journal_mode(WAL)
//
// # Error Handling
//
// Errors are classified by two parents, matchable with errors.Is:
//
//   - ErrValidation: bad input, rejected before anything is written
//   - ErrNotFound: the referenced space or conversation does not exist
//
// Specific sentinels (ErrCountMismatch, ErrUnknownID, ErrDuplicateID, ...)
// wrap one of them.
//
// # Migrations
//
// Migrations are embedded from internal/store/migrations/ and applied in
// ascending id order by NewSQLiteStore. All pending migrations run as one
// transaction; a failure leaves the schema untouched and is fatal.
package store
