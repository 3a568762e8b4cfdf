// Package app holds the contracts shared by the cmd/* entrypoints
package app

// Runner is a component a binary starts and waits on
type Runner interface {
	Run() error
}
