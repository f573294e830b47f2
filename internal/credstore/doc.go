// Package credstore persists the session credential (the bearer token issued on login).
//
// Exactly one credential is active per client. It is written on login, read before every
// outbound request, replaced by a successful Jira token refresh and removed on logout.
//
// Backends:
//   - File: local file with atomic writes and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//   - Env: read-only environment variable, for CI use with a pre-issued token
//   - Memory: process-local, used by tests and --no-persist
package credstore
