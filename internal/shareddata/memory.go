package shareddata

import "sync"

// MemoryStore is the in-process Store. Entries are immutable and swapped
// whole, so readers never take a lock and never observe a partial write.
type MemoryStore struct {
	slots sync.Map // key -> *slot
}

type slot struct {
	value   []byte
	version uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(key string) ([]byte, uint64, bool) {
	v, ok := s.slots.Load(key)
	if !ok {
		return nil, 0, false
	}
	sl := v.(*slot)
	return sl.value, sl.version, true
}

func (s *MemoryStore) Set(key string, value []byte, expectedVersion *uint64) error {
	for {
		cur, loaded := s.slots.Load(key)

		var curVersion uint64
		if loaded {
			curVersion = cur.(*slot).version
		}
		if expectedVersion != nil && *expectedVersion != curVersion {
			return ErrVersionConflict
		}

		next := &slot{
			value:   append([]byte(nil), value...),
			version: curVersion + 1,
		}

		if !loaded {
			if _, raced := s.slots.LoadOrStore(key, next); !raced {
				return nil
			}
			// Another writer got there first; re-evaluate.
			continue
		}
		if s.slots.CompareAndSwap(key, cur, next) {
			return nil
		}
	}
}

func (s *MemoryStore) Delete(key string) {
	s.slots.Delete(key)
}
