package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Prefs is a small key-value store holding raw JSON values in one file.
// Every write rewrites the file so a crash never leaves it half written.
type Prefs struct {
	path string

	mu     sync.Mutex
	values map[string]json.RawMessage
}

// OpenPrefs loads the file at path; a missing file starts empty.
func OpenPrefs(path string) (*Prefs, error) {
	p := &Prefs{path: path, values: make(map[string]json.RawMessage)}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload rereads the file, picking up edits made by other processes.
func (p *Prefs) Reload() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		p.mu.Lock()
		p.values = make(map[string]json.RawMessage)
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read prefs %s: %w", p.path, err)
	}

	values := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("parse prefs %s: %w", p.path, err)
		}
	}
	p.mu.Lock()
	p.values = values
	p.mu.Unlock()
	return nil
}

// Get decodes the value stored under key into v; ok is false when absent.
func (p *Prefs) Get(key string, v any) (bool, error) {
	p.mu.Lock()
	raw, ok := p.values[key]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode pref %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key and persists the file.
func (p *Prefs) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode pref %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = raw
	return p.flush()
}

// Delete removes key and persists the file.
func (p *Prefs) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		return nil
	}
	delete(p.values, key)
	return p.flush()
}

func (p *Prefs) flush() error {
	data, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".prefs-*.json")
	if err != nil {
		return fmt.Errorf("create prefs temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close prefs temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replace prefs %s: %w", p.path, err)
	}
	return nil
}
