// Package execshell provides structured helpers for invoking external tools.
//
// It wraps os/exec with logging, separated output capture, and timeout
// enforcement via ShellExecutor, exposes OSCommandRunner for default process
// execution, and defines abstractions used throughout deploy-agent to run git
// and restart commands in a testable manner.
package execshell
