package directory

import "testing"

func TestAddAndQuery(t *testing.T) {
	idx := New()
	n := idx.Add("alpha1234", "10.0.0.1", []Entry{
		{Filename: "song a.mp3", Filesize: 1000},
		{Filename: "notes.txt", Filesize: 42},
	})
	if n != 2 {
		t.Fatalf("Add returned %d, want 2", n)
	}

	results := idx.Query("beta5678", "mp3", "")
	if len(results) != 1 || results[0].Filename != "song a.mp3" {
		t.Fatalf("Query results = %+v", results)
	}
}

func TestQueryExcludesSelf(t *testing.T) {
	idx := New()
	idx.Add("alpha1234", "10.0.0.1", []Entry{{Filename: "a.mp3", Filesize: 1}})

	results := idx.Query("alpha1234", "mp3", "")
	if len(results) != 0 {
		t.Fatalf("Query should exclude the querying host's own files, got %+v", results)
	}
}

func TestQueryHostFilter(t *testing.T) {
	idx := New()
	idx.Add("alpha1234", "10.0.0.1", []Entry{{Filename: "a.mp3", Filesize: 1}})
	idx.Add("beta5678", "10.0.0.2", []Entry{{Filename: "b.mp3", Filesize: 2}})

	results := idx.Query("gamma9999", "mp3", "alpha1234")
	if len(results) != 1 || results[0].HostID != "alpha1234" {
		t.Fatalf("Query with hostFilter = %+v", results)
	}
}

func TestRemoveFiles(t *testing.T) {
	idx := New()
	idx.Add("alpha1234", "10.0.0.1", []Entry{
		{Filename: "a.mp3", Filesize: 1},
		{Filename: "b.mp3", Filesize: 2},
	})

	removed := idx.RemoveFiles("alpha1234", []string{"a.mp3", "missing.mp3"})
	if removed != 1 {
		t.Fatalf("RemoveFiles removed %d, want 1", removed)
	}
	results := idx.Query("nobody", "mp3", "")
	if len(results) != 1 || results[0].Filename != "b.mp3" {
		t.Fatalf("remaining entries = %+v", results)
	}
}

func TestRemoveHost(t *testing.T) {
	idx := New()
	idx.Add("alpha1234", "10.0.0.1", []Entry{{Filename: "a.mp3", Filesize: 1}})
	idx.Add("beta5678", "10.0.0.2", []Entry{{Filename: "b.mp3", Filesize: 2}})

	removed := idx.RemoveHost("alpha1234")
	if removed != 1 {
		t.Fatalf("RemoveHost removed %d, want 1", removed)
	}
	clients := idx.DistinctClients()
	if len(clients) != 1 || clients[0].HostID != "beta5678" {
		t.Fatalf("remaining clients = %+v", clients)
	}
}

func TestDistinctClientsEmpty(t *testing.T) {
	idx := New()
	if clients := idx.DistinctClients(); len(clients) != 0 {
		t.Fatalf("DistinctClients on empty index = %+v, want empty", clients)
	}
}

func TestReset(t *testing.T) {
	idx := New()
	idx.Add("alpha1234", "10.0.0.1", []Entry{{Filename: "a.mp3", Filesize: 1}})
	idx.Reset()
	if clients := idx.DistinctClients(); len(clients) != 0 {
		t.Fatalf("DistinctClients after Reset = %+v, want empty", clients)
	}
}

func TestAddToleratesDuplicateFilenames(t *testing.T) {
	idx := New()
	idx.Add("alpha1234", "10.0.0.1", []Entry{{Filename: "a.mp3", Filesize: 1}})
	n := idx.Add("alpha1234", "10.0.0.1", []Entry{{Filename: "a.mp3", Filesize: 1}})
	if n != 1 {
		t.Fatalf("Add returned %d, want 1", n)
	}

	results := idx.Query("nobody", "a.mp3", "")
	if len(results) != 2 {
		t.Fatalf("Query after duplicate Add = %+v, want 2 rows", results)
	}

	removed := idx.RemoveFiles("alpha1234", []string{"a.mp3"})
	if removed != 2 {
		t.Fatalf("RemoveFiles removed %d, want 2 (both duplicate rows)", removed)
	}
}

func TestQueryOrderIsDeterministic(t *testing.T) {
	idx := New()
	idx.Add("alpha1234", "10.0.0.1", []Entry{
		{Filename: "c.mp3", Filesize: 3},
		{Filename: "a.mp3", Filesize: 1},
	})
	idx.Add("beta5678", "10.0.0.2", []Entry{{Filename: "b.mp3", Filesize: 2}})

	var want []string
	for i := 0; i < 5; i++ {
		results := idx.Query("nobody", "mp3", "")
		got := make([]string, len(results))
		for j, r := range results {
			got[j] = r.Filename
		}
		if want == nil {
			want = got
			continue
		}
		if len(got) != len(want) {
			t.Fatalf("Query order changed across calls: %v vs %v", want, got)
		}
		for j := range got {
			if got[j] != want[j] {
				t.Fatalf("Query order changed across calls: %v vs %v", want, got)
			}
		}
	}
	if len(want) != 3 || want[0] != "c.mp3" || want[1] != "a.mp3" || want[2] != "b.mp3" {
		t.Fatalf("Query order = %v, want insertion order [c.mp3 a.mp3 b.mp3]", want)
	}
}

func TestAddEmptyEntriesIsNoop(t *testing.T) {
	idx := New()
	if n := idx.Add("alpha1234", "10.0.0.1", nil); n != 0 {
		t.Fatalf("Add(nil) = %d, want 0", n)
	}
	if clients := idx.DistinctClients(); len(clients) != 0 {
		t.Fatalf("DistinctClients = %+v, want empty", clients)
	}
}
