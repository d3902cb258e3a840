// Package resources keeps the packaged resource bundles (server payload,
// frontend files, optional cli tool) installed at the versions this build
// expects.
//
// The installed versions are recorded in a version lock. Load compares the
// lock against the bundle targets and publishes two independent statuses:
// main (server and frontend together) and cli. Update brings outdated
// resources up to date; it is sequential and does not roll back, so after a
// failure the in-memory statuses stay stale until Load runs again.
//
// When resource management is disabled in configuration, New returns an
// unmanaged Synchronizer whose operations are no-ops and whose statuses are
// always LATEST.
package resources
