package nvs

import (
	"sync"

	"pwmlight-go/errcode"
)

// EntriesPerPage is how many entries one page of a Memory partition holds.
const EntriesPerPage = 8

// Memory is an in-RAM partition with a fixed page count. Contents survive
// Close and Open but not the process.
type Memory struct {
	mu      sync.Mutex
	pages   int
	version int
	data    map[string][]byte
}

var _ Flash = (*Memory)(nil)

func NewMemory(pages int) *Memory {
	if pages < 1 {
		pages = 1
	}
	return &Memory{pages: pages, version: FormatVersion, data: map[string][]byte{}}
}

// Stamp overwrites the format version, as a different firmware would.
func (m *Memory) Stamp(version int) {
	m.mu.Lock()
	m.version = version
	m.mu.Unlock()
}

func (m *Memory) capacity() int { return m.pages * EntriesPerPage }

func (m *Memory) Open() (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version > FormatVersion {
		return nil, errcode.NVSNewVersionFound
	}
	if len(m.data) >= m.capacity() {
		return nil, errcode.NVSNoFreePages
	}
	m.version = FormatVersion
	return &memStore{m: m}, nil
}

func (m *Memory) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string][]byte{}
	m.version = FormatVersion
	return nil
}

// Len is the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type memStore struct {
	m      *Memory
	closed bool
}

func memKey(ns, key string) string { return ns + "\x00" + key }

func (s *memStore) Get(ns, key string) ([]byte, error) {
	if err := checkName(ns, key); err != nil {
		return nil, err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return nil, errcode.NVSNotInitialised
	}
	v, ok := s.m.data[memKey(ns, key)]
	if !ok {
		return nil, errcode.NVSNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *memStore) Set(ns, key string, val []byte) error {
	if err := checkName(ns, key); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return errcode.NVSNotInitialised
	}
	k := memKey(ns, key)
	if _, exists := s.m.data[k]; !exists && len(s.m.data) >= s.m.capacity() {
		return errcode.NVSNoFreePages
	}
	s.m.data[k] = append([]byte(nil), val...)
	return nil
}

func (s *memStore) Delete(ns, key string) error {
	if err := checkName(ns, key); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return errcode.NVSNotInitialised
	}
	k := memKey(ns, key)
	if _, ok := s.m.data[k]; !ok {
		return errcode.NVSNotFound
	}
	delete(s.m.data, k)
	return nil
}

func (s *memStore) EraseAll() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return errcode.NVSNotInitialised
	}
	s.m.data = map[string][]byte{}
	return nil
}

func (s *memStore) Close() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.closed = true
	return nil
}
