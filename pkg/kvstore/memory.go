package kvstore

import "github.com/cornelk/hashmap"

// Memory denotes an in-process key/value store
type Memory struct {
	values *hashmap.Map[string, []byte]
}

// NewMemory instantiates a new, empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		values: hashmap.New[string, []byte](),
	}
}

// Get returns the value stored under the key, or ErrNotFound
func (m *Memory) Get(key string) ([]byte, error) {
	val, exists := m.values.Get(key)
	if !exists {
		return nil, ErrNotFound
	}

	res := make([]byte, len(val))
	copy(res, val)
	return res, nil
}

// Set stores the value under the key, replacing any previous value
func (m *Memory) Set(key string, value []byte) error {
	val := make([]byte, len(value))
	copy(val, value)
	m.values.Set(key, val)
	return nil
}

// Delete removes the key (no error if it does not exist)
func (m *Memory) Delete(key string) error {
	m.values.Del(key)
	return nil
}

// Len returns the number of keys in the store
func (m *Memory) Len() int {
	return m.values.Len()
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
