// Package httpapi exposes the agent's control surface over HTTP: repository
// inspection, git mutations, stale branch management, main application
// restart, and the operational log.
package httpapi
