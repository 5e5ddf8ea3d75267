// Package store provides the persisted table store for adrecon.
//
// Each logical table (one per view) owns two durable records:
//   - rows:<table>     the full row collection
//   - messages:<table> the deduplicated message log
//
// # Critical Patterns
//
// Full overwrite: every mutation serializes the whole collection to JSON,
// seals it with the vault and replaces the stored blob. There are no
// partial writes.
//
// Tolerant load: a blob that fails to decrypt or parse loads as an empty
// collection. A corrupt store never prevents the table from opening.
//
// In-memory authority: write failures are logged and reported to the
// Observer; the in-memory collection keeps the new state.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
