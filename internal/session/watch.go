package session

import "github.com/fsnotify/fsnotify"

// fsWatcher adapts *fsnotify.Watcher (which exposes Events/Errors as plain
// channel fields) to the Watcher interface, so Controller can depend on an
// interface and tests can inject a fake.
type fsWatcher struct {
	w *fsnotify.Watcher
}

// NewFSWatcher opens a real filesystem watcher for use as Options.Watcher.
func NewFSWatcher() (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsWatcher{w: w}, nil
}

func (f *fsWatcher) Add(path string) error           { return f.w.Add(path) }
func (f *fsWatcher) Close() error                    { return f.w.Close() }
func (f *fsWatcher) Events() <-chan fsnotify.Event    { return f.w.Events }
func (f *fsWatcher) Errors() <-chan error             { return f.w.Errors }
