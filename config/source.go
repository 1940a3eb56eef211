// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"sync"

	"github.com/pion/camstream/observable"
	"github.com/pion/logging"
	ini "gopkg.in/ini.v1"
)

// Option configures a File.
type Option func(*File) error

// SetLoggerFactory sets the logger used for parse warnings.
func SetLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(f *File) error {
		f.log = loggerFactory.NewLogger("config")

		return nil
	}
}

// File is a Source backed by an ini file on disk.
type File struct {
	path string
	log  logging.LeveledLogger

	mu      sync.RWMutex
	current Snapshot
	changes observable.Feed[Snapshot]
}

// Load reads the settings file at path.
func Load(path string, opts ...Option) (*File, error) {
	file := &File{
		path: path,
		log:  logging.NewDefaultLoggerFactory().NewLogger("config"),
	}
	for _, opt := range opts {
		if err := opt(file); err != nil {
			return nil, err
		}
	}

	snap, err := file.read()
	if err != nil {
		return nil, err
	}
	file.current = snap

	return file, nil
}

// Path returns the file backing this source.
func (f *File) Path() string { return f.path }

// Snapshot returns the settings as last loaded.
func (f *File) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.current
}

// Subscribe implements Source.
func (f *File) Subscribe(fn func(Snapshot)) func() {
	return f.changes.Subscribe(fn)
}

// Reload re-reads the file and notifies subscribers if anything changed.
// On error the previous settings stay in effect.
func (f *File) Reload() error {
	snap, err := f.read()
	if err != nil {
		return err
	}

	f.mu.Lock()
	changed := !f.current.Equal(snap)
	f.current = snap
	f.mu.Unlock()

	if changed {
		f.log.Infof("Settings reloaded from %s", f.path)
		f.changes.Publish(snap)
	} else {
		f.log.Debugf("Settings unchanged in %s", f.path)
	}

	return nil
}

func (f *File) read() (Snapshot, error) {
	cfg, err := ini.Load(f.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings %s: %w", f.path, err)
	}

	snap, err := Parse(cfg, f.log)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse settings %s: %w", f.path, err)
	}

	return snap, nil
}

// Static is an in-memory Source.
type Static struct {
	mu      sync.RWMutex
	current Snapshot
	changes observable.Feed[Snapshot]
}

// NewStatic creates a Static holding snap.
func NewStatic(snap Snapshot) *Static {
	return &Static{current: snap}
}

// Snapshot implements Source.
func (s *Static) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Subscribe implements Source.
func (s *Static) Subscribe(fn func(Snapshot)) func() {
	return s.changes.Subscribe(fn)
}

// Set replaces the settings and notifies subscribers.
func (s *Static) Set(snap Snapshot) {
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	s.changes.Publish(snap)
}
