// Package proc holds the process-group plumbing shared by the runner and the
// launcher: every child starts in its own group and is killed as a tree.
package proc
