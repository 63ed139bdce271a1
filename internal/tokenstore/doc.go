// Package tokenstore persists the single active OAuth credential.
//
// Every backend implements Store with the same contract: Save atomically
// replaces the stored credential, Load returns nil when nothing is stored,
// and Clear is idempotent. Records are stored as versioned JSON
// ({"version":1,"credential":{...}}) so backends can be swapped without
// changing the format.
//
// Backends:
//   - memory: process-local, lost on exit
//   - file: a 0600 JSON file, replaced via rename; supports Watch
//   - keyring: the operating system keychain
//   - redis: a single key, optionally with a TTL
//   - sqlite: a single-row table
//
// Use Open to build the backend named in a Config.
package tokenstore
