package doc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func setupSearchDoc(t *testing.T) *Doc {
	t.Helper()

	d := New("notes")
	values := map[string]any{
		"title":   "Weekly Sync",
		"summary": "Agenda for the weekly planning",
		"owner":   "alice",
		"count":   int64(7),
	}
	for k, v := range values {
		if err := d.Set(k, v); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}
	return d
}

func TestSearch(t *testing.T) {
	d := setupSearchDoc(t)

	tests := []struct {
		name   string
		query  string
		fields []string
		want   []Match
	}{
		{
			name:  "all keys ignoring case",
			query: "WEEKLY",
			want: []Match{
				{Key: "summary", Value: "Agenda for the weekly planning"},
				{Key: "title", Value: "Weekly Sync"},
			},
		},
		{
			name:   "restricted to indexed fields",
			query:  "weekly",
			fields: []string{"title"},
			want:   []Match{{Key: "title", Value: "Weekly Sync"}},
		},
		{
			name:   "missing field is skipped",
			query:  "alice",
			fields: []string{"owner", "nope"},
			want:   []Match{{Key: "owner", Value: "alice"}},
		},
		{
			name:  "non-string values are not searched",
			query: "7",
			want:  nil,
		},
		{
			name:  "no match",
			query: "retro",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Search(tt.query, tt.fields)
			if err != nil {
				t.Fatalf("Search() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Search() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	d := setupSearchDoc(t)

	if _, err := d.Search("", nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Search() error = %v, want ErrEmptyQuery", err)
	}
}

func TestSearch_SeesMergedChanges(t *testing.T) {
	a := New("notes")
	b := New("notes")
	if err := a.Set("title", "Roadmap review"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	syncPeers(t, a.NewPeer(), b.NewPeer())

	got, err := b.Search("roadmap", nil)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(got) != 1 || got[0].Key != "title" {
		t.Errorf("Search() = %+v, want the merged title", got)
	}
}
