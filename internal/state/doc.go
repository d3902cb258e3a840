// Package state owns the small JSON documents persisted per channel: the
// AppData document (login options, databases, web options) and the
// Configuration document (database path).
//
// Each document is read tolerantly (comments and trailing commas are
// accepted, since users edit these files by hand), migrated in place when its
// stored version is behind the compiled-in target, and written back
// atomically. Mutation happens only through the owning store's Update.
package state
