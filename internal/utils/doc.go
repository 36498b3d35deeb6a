// Package utils hosts shared infrastructure helpers: logger construction,
// configuration loading, and command context plumbing.
package utils
