// Package account keeps a read model of the host application's users for
// the billing engine. The engine consults it in two places: subscription
// creation checks that the subscriber exists, and notifications resolve a
// user ID to an email address.
//
// The host application owns the source of truth. It is expected to call
// Upsert whenever a user registers or changes their email, so the
// projection lags the host by at most one sync. Deletions are intentionally
// absent: a user who disappears mid-subscription still needs their final
// receipts delivered, and stale rows are harmless.
//
// Three directories ship with the package. PGDirectory and MongoDirectory
// back the projection with the same databases the rest of the engine uses,
// and StaticDirectory holds a fixed in-memory set for tests and local
// development.
package account
