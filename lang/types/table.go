package types

// A Table is an open-addressed, linear-probe hash map keyed by interned
// String identity. It backs both the machine's globals namespace and the
// heap's string intern pool. The zero value is an empty table ready for use.
//
// Deleted keys leave a tombstone (nil key, True value) so probe sequences
// stay intact; tombstones keep counting toward the load factor until the
// next growth rebuilds the entries.
type Table struct {
	count   int // live entries plus tombstones
	entries []entry
}

type entry struct {
	key   *String
	value Value
}

const tableMaxLoad = 0.75

const tableMinCap = 8

// Get returns the value stored under key, if present.
func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return nil, false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key and reports whether the key was not already
// present.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}
	e := findEntry(t.entries, key)
	isNew := e.key == nil
	if isNew && e.value == nil {
		// fresh slot, not a recycled tombstone
		t.count++
	}
	e.key = key
	e.value = value
	return isNew
}

// Delete removes key, leaving a tombstone, and reports whether the key was
// present. The count is not decremented: tombstones still occupy load.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = True
	return true
}

// AddAll copies every live entry of src into t.
func (t *Table) AddAll(src *Table) {
	for i := range src.entries {
		e := &src.entries[i]
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

// FindString returns the interned String equal to s (comparing length, hash
// and bytes rather than identity), or nil if no such key exists. This is the
// lookup that enforces interning.
func (t *Table) FindString(s string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	for i := hash & mask; ; i = (i + 1) & mask {
		e := &t.entries[i]
		if e.key == nil {
			if e.value == nil {
				// empty non-tombstone slot, the key is absent
				return nil
			}
		} else if e.key.Len() == len(s) && e.key.hash == hash && e.key.str == s {
			return e.key
		}
	}
}

// findEntry probes for key starting at its hash position, returning either
// the entry holding it or the slot where it would be inserted (preferring
// the first tombstone seen over a trailing empty slot).
func findEntry(entries []entry, key *String) *entry {
	mask := uint32(len(entries) - 1)
	var tombstone *entry
	for i := key.hash & mask; ; i = (i + 1) & mask {
		e := &entries[i]
		if e.key == nil {
			if e.value == nil {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
	}
}

// grow doubles the capacity and reinserts the live entries, discarding
// tombstones.
func (t *Table) grow() {
	ncap := len(t.entries) * 2
	if ncap < tableMinCap {
		ncap = tableMinCap
	}
	entries := make([]entry, ncap)
	count := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		dst := findEntry(entries, e.key)
		dst.key = e.key
		dst.value = e.value
		count++
	}
	t.entries = entries
	t.count = count
}
