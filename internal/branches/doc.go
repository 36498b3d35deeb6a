// Package branches classifies local branches against their upstream state.
//
// Classifier scans the managed repository for branches whose upstream tracking
// ref has disappeared and grades each one for deletion safety. The scan is
// purely derived from inspector queries and never mutates repository state.
package branches
