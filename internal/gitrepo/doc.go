// Package gitrepo inspects the managed repository through git shell-outs.
//
// RepositoryManager answers read-only queries about the checkout: the active
// ref, branch and tag listings, recent commit summaries, and per-branch
// upstream tracking state consumed by the stale-branch classifier. Repository
// validity is re-checked on every operation and never cached across mutations.
package gitrepo
