package store

import "github.com/cornelk/hashmap"

// Memory is a process-local Store. Values do not survive a restart; it backs
// tests and runs without a state file.
type Memory struct {
	values *hashmap.Map[string, string]
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: hashmap.New[string, string]()}
}

func (m *Memory) Get(key string) (string, bool, error) {
	v, ok := m.values.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.values.Set(key, value)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.values.Del(key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	return m.values.Len()
}
