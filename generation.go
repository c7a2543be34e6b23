package unwind

// generation is the process-wide, monotonically increasing counter bumped
// whenever the tracer observes an address-space-mutating syscall (mmap,
// mprotect, munmap, brk, execve, ...). It is compared for equality only,
// never ordered — spec §9 explicitly rejects modeling it as a version
// clock.
//
// ensureCache implements spec §4.D's is_cache_available sequencing:
//  1. drop a stale non-empty cache,
//  2. build if there is no cache,
//  3. report availability.
//
// A non-nil error means the rebuild hit a fatal condition (spec §4.C: an
// unrecognized maps line, an overlapping or reversed region) and the
// cache is left unavailable; it is never returned alongside available=true.
func (m *Manager) ensureCache(t *Tracee) (available bool, err error) {
	if t.cache.generation != m.generation && !t.cache.empty() {
		t.cache = mapCache{}
	}
	if t.cache.entries == nil {
		cache, err := m.buildMapCache(t.PID, m.generation)
		if err != nil {
			return false, err
		}
		t.cache = cache
	}
	return !t.cache.empty(), nil
}

// InvalidateCache bumps the global generation. It never touches any
// tracee's cache directly, so many invalidations coalesce into a single
// rebuild the next time that tracee's cache is used (spec §4.D).
//
// t is not read: the counter it bumps is process-wide, and nothing is
// logged.
func (m *Manager) InvalidateCache(t *Tracee) {
	m.generation++
}
