// Package uploader holds the storage backend adapters. Every adapter keeps
// upload failures behind its own error flag; nothing here panics or returns
// an upload error across the orchestrator boundary.
package uploader

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}
