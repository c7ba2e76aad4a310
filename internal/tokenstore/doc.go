// Package tokenstore provides keyed persistent storage for bearer tokens.
//
// Every backend stores one opaque string per token name and overwrites it in
// full on each write. Durability is best-effort: callers must tolerate an
// empty store on every call.
//
// Backends and their tradeoffs:
//   - Memory: process-local map, for tests and single-invocation tools
//   - File: one file per name with atomic writes and 0600 permissions
//   - Env: read-only environment variables, for pre-seeded tokens
//   - Keyring: OS-native credential storage
//   - SSM: AWS Systems Manager Parameter Store SecureString parameters
//   - S3: AWS S3 objects with server-side encryption
//   - SQL: a cached_tokens table in SQLite or PostgreSQL
package tokenstore
