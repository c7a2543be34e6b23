package unwind

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// MapEntry is one executable/mapped region of a tracee's address space, as
// reported by /proc/<pid>/maps.
type MapEntry struct {
	Start, End uint64
	MMapOffset uint64
	BinaryPath string
}

const deletedSuffix = " (deleted)"

// mapCache is the per-tracee sorted, non-overlapping array of map entries
// described in spec §3, stamped with the generation it was built at.
type mapCache struct {
	entries    []MapEntry
	generation uint32
}

func (c *mapCache) empty() bool {
	return len(c.entries) == 0
}

// clone returns a copy of the cache's entries that shares no backing
// array with the cache. Stats uses it only to count entries; no slice of
// entries is handed outside this package.
func (c *mapCache) clone() []MapEntry {
	return slices.Clone(c.entries)
}

// find returns the unique entry covering ip, using a half-open binary
// search (spec §9's resolution of the open question on the binary-search
// shape): entries are sorted ascending and non-overlapping, so the search
// predicate "entry.Start > ip" partitions the array exactly once.
func (c *mapCache) find(ip uint64) (MapEntry, bool) {
	entries := c.entries
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].Start > ip {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return MapEntry{}, false
	}
	e := entries[lo-1]
	if ip >= e.Start && ip < e.End {
		return e, true
	}
	return MapEntry{}, false
}

// openProcMaps is the default mapsSource: it opens /proc/<pid>/maps, the
// real source spec §4.C describes. Tests substitute a different source via
// the MapsSource Manager option to script scenarios S5/S6 without a real
// tracee.
func openProcMaps(pid int) (io.ReadCloser, error) {
	return os.Open(fmt.Sprintf("/proc/%d/maps", pid))
}

// buildMapCache reads m.mapsSource(pid) and builds a fresh cache. Failure
// to open the source is non-fatal: it is logged and an empty cache is
// returned, which callers treat as "unavailable" (spec §4.C). An
// unrecognized line format or an overlapping/reversed region is fatal per
// spec §4.C's validation checks, and is returned as an error rather than
// exiting the process, so one bad tracee's maps file cannot take down a
// tracer watching several others.
func (m *Manager) buildMapCache(pid int, generation uint32) (mapCache, error) {
	r, err := m.mapsSource(pid)
	if err != nil {
		log.Printf("unwind: cannot open maps for pid %d: %v", pid, err)
		return mapCache{generation: generation}, nil
	}
	defer r.Close()

	entries := make([]MapEntry, 0, 10)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		entry, ok, err := parseMapsLine(scanner.Text())
		if err != nil {
			return mapCache{}, fmt.Errorf("unwind: pid %d: unrecognized maps file format: %w", pid, err)
		}
		if !ok {
			continue
		}
		if len(entries) > 0 {
			prev := entries[len(entries)-1]
			if prev.Start >= entry.Start || prev.End > entry.Start {
				return mapCache{}, fmt.Errorf("unwind: pid %d: overlapping memory region", pid)
			}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("unwind: error reading maps for pid %d: %v", pid, err)
	}

	return mapCache{entries: entries, generation: generation}, nil
}

// parseMapsLine parses one line of /proc/<pid>/maps in the fixed format
// "START-END PERMS OFFSET DEV:INODE INODE PATH" (spec §6). ok is false when
// the line should be skipped (pseudo region, empty path, deleted file).
func parseMapsLine(line string) (entry MapEntry, ok bool, err error) {
	// Fields may be separated by runs of whitespace, and the path (last
	// field) may itself contain spaces, so split on the first five
	// whitespace-delimited tokens and keep the remainder verbatim.
	fields := splitFixedFields(line, 5)
	if len(fields) != 6 {
		return MapEntry{}, false, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return MapEntry{}, false, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return MapEntry{}, false, fmt.Errorf("malformed start address %q: %w", addrs[0], err)
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return MapEntry{}, false, fmt.Errorf("malformed end address %q: %w", addrs[1], err)
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return MapEntry{}, false, fmt.Errorf("malformed offset %q: %w", fields[2], err)
	}

	path := fields[5]

	if path == "" || strings.HasPrefix(path, "[") || strings.HasSuffix(path, deletedSuffix) {
		return MapEntry{}, false, nil
	}

	if end < start {
		return MapEntry{}, false, fmt.Errorf("end address %#x before start address %#x", end, start)
	}

	return MapEntry{Start: start, End: end, MMapOffset: offset, BinaryPath: path}, true, nil
}

// splitFixedFields splits s into n whitespace-delimited fields followed by
// one trailing field holding everything that remains (which may itself
// contain whitespace, and may be empty).
func splitFixedFields(s string, n int) []string {
	fields := make([]string, 0, n+1)
	rest := s
	for i := 0; i < n; i++ {
		rest = strings.TrimLeft(rest, " \t")
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			if rest == "" || i < n-1 {
				return fields
			}
			idx = len(rest)
		}
		fields = append(fields, rest[:idx])
		rest = rest[idx:]
	}
	rest = strings.TrimLeft(rest, " \t")
	fields = append(fields, rest)
	return fields
}
