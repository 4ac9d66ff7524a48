package machine

// Table is an open-addressing, string-keyed hash table with tombstone
// deletion, used for globals and the string-intern table (values are ObjVal
// handles). Instance fields, class method tables, and the raw primitive
// backing a table literal are plain Go maps instead. This is the one
// hand-rolled table in the system; its probe/tombstone behavior
// is an observable, tested invariant (copyString/takeString identity,
// interning), so it is not delegated to a generic map implementation.
type Table struct {
	entries []tableEntry
	count   int // occupied + tombstones
}

type entryState byte

const (
	stateEmpty entryState = iota
	stateOccupied
	stateTombstone
)

type tableEntry struct {
	key   string
	value Value
	state entryState
}

const tableMaxLoad = 0.75

// fnv1a is the 32-bit FNV-1a hash used throughout, matching ObjString's
// precomputed hash field.
func fnv1a(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// Get returns the value stored for key and whether it was found.
func (t *Table) Get(key string) (Value, bool) {
	if len(t.entries) == 0 {
		return Value(0), false
	}
	e := t.findEntry(t.entries, key)
	if e.state != stateOccupied {
		return Value(0), false
	}
	return e.value, true
}

// Has reports whether key is present (occupied, not a tombstone).
func (t *Table) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Set stores value under key, growing the table if the load factor demands
// it. It returns true if this inserted a brand new key.
func (t *Table) Set(key string, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.adjustCapacity(growCapacity(len(t.entries)))
	}
	e := t.findEntry(t.entries, key)
	isNew := e.state != stateOccupied
	if isNew && e.state == stateEmpty {
		t.count++
	}
	e.key = key
	e.value = value
	e.state = stateOccupied
	return isNew
}

// Delete tombstones key's slot so that later probes looking for a different
// key with a colliding hash still find it. Returns true if key was present.
func (t *Table) Delete(key string) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := t.findEntry(t.entries, key)
	if e.state != stateOccupied {
		return false
	}
	e.key = ""
	e.value = Value(0)
	e.state = stateTombstone
	return true
}

// Len returns the number of live (non-tombstone) entries.
func (t *Table) Len() int {
	n := 0
	for _, e := range t.entries {
		if e.state == stateOccupied {
			n++
		}
	}
	return n
}

// Keys returns the live keys in table-internal order (unspecified order).
func (t *Table) Keys() []string {
	keys := make([]string, 0, t.Len())
	for _, e := range t.entries {
		if e.state == stateOccupied {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Each calls fn for every live entry.
func (t *Table) Each(fn func(key string, value Value)) {
	for _, e := range t.entries {
		if e.state == stateOccupied {
			fn(e.key, e.value)
		}
	}
}

// findEntry returns the slot where key belongs: either its existing
// occupied slot, the first tombstone seen along the probe sequence (so
// repeated insert/delete doesn't leak slots), or the first empty slot.
func (t *Table) findEntry(entries []tableEntry, key string) *tableEntry {
	idx := fnv1a(key) % uint32(len(entries))
	var tombstone *tableEntry
	for {
		e := &entries[idx]
		switch e.state {
		case stateEmpty:
			if tombstone != nil {
				return tombstone
			}
			return e
		case stateTombstone:
			if tombstone == nil {
				tombstone = e
			}
		case stateOccupied:
			if e.key == key {
				return e
			}
		}
		idx = (idx + 1) % uint32(len(entries))
	}
}

func growCapacity(cap int) int {
	if cap < 8 {
		return 8
	}
	return cap * 2
}

func (t *Table) adjustCapacity(newCap int) {
	newEntries := make([]tableEntry, newCap)
	t.count = 0
	for _, e := range t.entries {
		if e.state != stateOccupied {
			continue
		}
		dst := t.findEntry(newEntries, e.key)
		dst.key = e.key
		dst.value = e.value
		dst.state = stateOccupied
		t.count++
	}
	t.entries = newEntries
}

// removeUnmarkedKeys deletes every entry whose value is an object handle
// that isUnmarked reports as unmarked. Used for weak intern-table cleanup
// during GC, ahead of sweep freeing those objects.
func (t *Table) removeUnmarkedKeys(isUnmarked func(Value) bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.state == stateOccupied && isUnmarked(e.value) {
			e.key = ""
			e.value = Value(0)
			e.state = stateTombstone
		}
	}
}
