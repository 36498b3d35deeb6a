// Package serve wires the agent's components together and runs the admin
// server until interrupted.
package serve
