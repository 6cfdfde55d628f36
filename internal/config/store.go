package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown endpoint id.
var ErrNotFound = errors.New("endpoint not found")

// Store manages the endpoint list and the active endpoint.
type Store interface {
	List() []Endpoint
	Get(id string) (Endpoint, bool)
	// Set adds or replaces an endpoint. An empty ID is assigned.
	Set(e Endpoint) (Endpoint, error)
	Delete(id string) error
	Active() (Endpoint, bool)
	SetActive(id string) error
}

// Resolve finds an endpoint by id or, failing that, by name.
func Resolve(s Store, ref string) (Endpoint, bool) {
	if e, ok := s.Get(ref); ok {
		return e, true
	}
	for _, e := range s.List() {
		if e.Name == ref {
			return e, true
		}
	}
	return Endpoint{}, false
}

// Next returns the endpoint after the active one, wrapping around.
func Next(s Store) (Endpoint, bool) {
	list := s.List()
	if len(list) == 0 {
		return Endpoint{}, false
	}
	active, ok := s.Active()
	if !ok {
		return list[0], true
	}
	for i, e := range list {
		if e.ID == active.ID {
			return list[(i+1)%len(list)], true
		}
	}
	return list[0], true
}

// FileStore is a Store backed by a YAML file. Every mutation is saved
// immediately.
type FileStore struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

// Open loads the store at path. A missing file starts empty.
func Open(path string) (*FileStore, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, cfg: cfg}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Config returns a copy of the loaded configuration.
func (s *FileStore) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.cfg
	cp.Endpoints = append([]Endpoint(nil), s.cfg.Endpoints...)
	return cp
}

// Reload re-reads the file, e.g. after another process changed it.
func (s *FileStore) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *FileStore) List() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Endpoint(nil), s.cfg.Endpoints...)
}

func (s *FileStore) Get(id string) (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Endpoint{}, false
	}
	return s.cfg.Endpoints[i], true
}

func (s *FileStore) Set(e Endpoint) (Endpoint, error) {
	if err := e.Validate(); err != nil {
		return Endpoint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.cfg.Endpoints {
		if other.Name == e.Name && other.ID != e.ID {
			return Endpoint{}, fmt.Errorf("endpoint name %q already in use", e.Name)
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := s.commit(func(cfg *Config) {
		if i := s.index(e.ID); i >= 0 {
			cfg.Endpoints[i] = e
		} else {
			cfg.Endpoints = append(cfg.Endpoints, e)
		}
	})
	if err != nil {
		return Endpoint{}, err
	}
	return e, nil
}

func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.commit(func(cfg *Config) {
		cfg.Endpoints = append(cfg.Endpoints[:i], cfg.Endpoints[i+1:]...)
		if cfg.Active == id {
			cfg.Active = ""
		}
	})
}

func (s *FileStore) Active() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Active == "" {
		return Endpoint{}, false
	}
	i := s.index(s.cfg.Active)
	if i < 0 {
		return Endpoint{}, false
	}
	return s.cfg.Endpoints[i], true
}

// SetActive selects the active endpoint. An empty id clears it.
func (s *FileStore) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.commit(func(cfg *Config) { cfg.Active = id })
}

// commit applies mutate to a copy of the config and keeps it only once the
// copy is on disk. Callers hold s.mu.
func (s *FileStore) commit(mutate func(*Config)) error {
	next := *s.cfg
	next.Endpoints = append([]Endpoint(nil), s.cfg.Endpoints...)
	mutate(&next)
	if err := next.Save(s.path); err != nil {
		return err
	}
	s.cfg = &next
	return nil
}

func (s *FileStore) index(id string) int {
	for i, e := range s.cfg.Endpoints {
		if e.ID == id {
			return i
		}
	}
	return -1
}
