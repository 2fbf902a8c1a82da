// Package jobtoken implements file-based mutual exclusion between jobs:
// a token is a text file whose contents are the signature of whichever job
// currently holds it. Presence means held; absence means free.
package jobtoken

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrConflict is returned when one or more required tokens are held by a
// different job signature.
var ErrConflict = errors.New("jobtoken: conflict")

// NewSignature returns a fresh, process-lifetime job signature for runs
// that were not given an explicit --token-signature.
func NewSignature() string {
	return uuid.New().String()
}

// Conflict describes one token this job failed to acquire.
type Conflict struct {
	Path   string
	Holder string
}

// Manager acquires and releases a set of token paths on behalf of one job
// signature.
type Manager struct {
	Signature string
	acquired  []string // paths this run created, in acquisition order
}

// NewManager returns a Manager for signature.
func NewManager(signature string) *Manager {
	return &Manager{Signature: signature}
}

// Acquire attempts to acquire every path in paths. It returns the set of
// conflicts (tokens held by a different signature); any path this call
// itself newly created is tracked for Rollback regardless of
// whether the overall acquisition is later deemed successful.
func (m *Manager) Acquire(paths []string) ([]Conflict, error) {
	var conflicts []Conflict
	for _, path := range paths {
		created, err := m.tryCreate(path)
		if err != nil {
			return nil, fmt.Errorf("acquire token %s: %w", path, err)
		}
		if created {
			m.acquired = append(m.acquired, path)
			continue
		}
		holder, err := readHolder(path)
		if err != nil {
			return nil, fmt.Errorf("read token %s: %w", path, err)
		}
		if holder != m.Signature {
			conflicts = append(conflicts, Conflict{Path: path, Holder: holder})
		}
	}
	return conflicts, nil
}

// tryCreate atomically creates path containing this job's signature: write
// to a sibling temp file, then link it into place. os.Link fails with
// EEXIST if path already exists, giving the same "creation fails if the
// target is already there" contract a plain rename would give on the
// original platform but that POSIX rename(2) does not (it silently
// replaces); the temp file is removed either way.
func (m *Manager) tryCreate(path string) (created bool, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-token-*")
	if err != nil {
		return false, err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(m.Signature); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return false, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return false, err
	}

	if _, err := os.Lstat(path); err == nil {
		os.Remove(tmpPath)
		return false, nil
	}
	if err := os.Link(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	os.Remove(tmpPath)
	return true, nil
}

func readHolder(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Rollback removes every token this Manager created during Acquire calls.
// Tokens already held by another signature, or tokens this run never
// created, are left untouched.
func (m *Manager) Rollback() error {
	var firstErr error
	for _, path := range m.acquired {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	m.acquired = nil
	return firstErr
}

// Acquired returns the token paths this Manager created, in acquisition
// order. Tokens acquired this run are owned for the rest of the job and
// are never released on success — callers only call Rollback on failure.
func (m *Manager) Acquired() []string {
	return append([]string(nil), m.acquired...)
}
