// Package directory implements the in-memory shared-file index kept by
// the directory server: one row per (host_id, host_ip, filename,
// filesize) tuple, with add, remove, and substring-query operations.
package directory

import (
	"strings"
	"sync"
)

// Entry is one row of the directory index.
type Entry struct {
	HostID   string
	HostIP   string
	Filename string
	Filesize int64
}

// Index is the directory server's shared-file table: a plain ordered
// list of rows, appended to in insertion order. There is no uniqueness
// constraint on (host_id, filename) — a host re-announcing a filename
// it already shares adds another row rather than replacing one — and
// every read returns rows in that same insertion order, so results are
// deterministic for a fixed sequence of Add/Remove calls. The zero
// value is not usable; construct with New.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// Add appends one row per entry for the sharing host, unconditionally.
// It returns the number of entries inserted.
func (idx *Index) Add(hostID, hostIP string, entries []Entry) int {
	if len(entries) == 0 {
		return 0
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, e := range entries {
		idx.entries = append(idx.entries, Entry{
			HostID:   hostID,
			HostIP:   hostIP,
			Filename: e.Filename,
			Filesize: e.Filesize,
		})
	}
	return len(entries)
}

// RemoveFiles deletes every row contributed by hostID whose filename is
// in filenames (duplicates of the same name are all removed), returning
// the number of rows removed.
func (idx *Index) RemoveFiles(hostID string, filenames []string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	drop := make(map[string]struct{}, len(filenames))
	for _, name := range filenames {
		drop[name] = struct{}{}
	}

	kept := idx.entries[:0]
	removed := 0
	for _, e := range idx.entries {
		if e.HostID == hostID {
			if _, match := drop[e.Filename]; match {
				removed++
				continue
			}
		}
		kept = append(kept, e)
	}
	idx.entries = kept
	return removed
}

// RemoveHost deletes every row contributed by hostID, returning the
// number of rows removed.
func (idx *Index) RemoveHost(hostID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := idx.entries[:0]
	removed := 0
	for _, e := range idx.entries {
		if e.HostID == hostID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	idx.entries = kept
	return removed
}

// Query returns every row whose filename contains substring, excluding
// rows contributed by excludeHostID (a client never matches its own
// shared files), optionally restricted to a single hostFilter. Matches
// are returned in insertion order.
func (idx *Index) Query(excludeHostID, substring, hostFilter string) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []Entry
	for _, e := range idx.entries {
		if e.HostID == excludeHostID {
			continue
		}
		if hostFilter != "" && e.HostID != hostFilter {
			continue
		}
		if strings.Contains(e.Filename, substring) {
			results = append(results, e)
		}
	}
	return results
}

// DistinctClients returns the set of currently-sharing (host_id,
// host_ip) pairs, one Entry per host with Filename/Filesize zeroed, in
// order of each host's first-seen row.
func (idx *Index) DistinctClients() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	var clients []Entry
	for _, e := range idx.entries {
		if _, ok := seen[e.HostID]; ok {
			continue
		}
		seen[e.HostID] = struct{}{}
		clients = append(clients, Entry{HostID: e.HostID, HostIP: e.HostIP})
	}
	return clients
}

// Reset discards every entry, as if the index had just been created.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
}
