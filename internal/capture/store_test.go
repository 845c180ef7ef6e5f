// internal/capture/store_test.go
package capture

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStore_AppendAssignsPosition(t *testing.T) {
	s := NewStore()
	first := s.Append(Record{Path: "/a"})
	second := s.Append(Record{Path: "/b"})

	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, 2, s.Len())

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "/b", last.Path)

	_, ok = s.At(2)
	assert.False(t, ok)
	_, ok = s.At(-1)
	assert.False(t, ok)
}

func TestStore_EmptyAndReset(t *testing.T) {
	s := NewStore()
	_, ok := s.Last()
	assert.False(t, ok)
	assert.Empty(t, s.Snapshot())

	s.Append(Record{Path: "/x"})
	s.Reset()
	assert.Equal(t, 0, s.Len())

	rec := s.Append(Record{Path: "/y"})
	assert.Equal(t, 0, rec.Seq, "positions restart after reset")
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore()
	headers := map[string]string{"Content-Type": "application/json"}
	s.Append(Record{Path: "/a", Headers: headers})

	headers["Content-Type"] = "mutated"
	snap := s.Snapshot()
	snap[0].Path = "/changed"

	got, _ := s.At(0)
	assert.Equal(t, "/a", got.Path)
	assert.Equal(t, "application/json", got.Headers["Content-Type"])
}

func TestStore_Since(t *testing.T) {
	s := NewStore()
	for _, p := range []string{"/0", "/1", "/2"} {
		s.Append(Record{Path: p})
	}

	want := []Record{{Path: "/1", Seq: 1, Headers: map[string]string{}}, {Path: "/2", Seq: 2, Headers: map[string]string{}}}
	if diff := cmp.Diff(want, s.Since(1), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Since(1) mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, s.Since(3))
	assert.Len(t, s.Since(-4), 3)
}

func TestStore_ConcurrentAppendLosesNothing(t *testing.T) {
	s := NewStore()
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Append(Record{Path: "/concurrent"})
				_ = s.Len()
				_, _ = s.Last()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, writers*perWriter)
	for i, rec := range snap {
		assert.Equal(t, i, rec.Seq)
	}
}

// Appending any sequence preserves it exactly, in order.
func TestStore_OrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		paths := rapid.SliceOf(rapid.StringMatching(`/[a-z0-9]{0,12}`)).Draw(t, "paths")

		s := NewStore()
		for _, p := range paths {
			s.Append(Record{Path: p})
		}

		snap := s.Snapshot()
		if len(snap) != len(paths) {
			t.Fatalf("len = %d, want %d", len(snap), len(paths))
		}
		for i, rec := range snap {
			if rec.Path != paths[i] || rec.Seq != i {
				t.Fatalf("record %d = (%q, %d), want (%q, %d)", i, rec.Path, rec.Seq, paths[i], i)
			}
		}

		n := rapid.IntRange(0, len(paths)).Draw(t, "since")
		if got := len(s.Since(n)); got != len(paths)-n {
			t.Fatalf("Since(%d) returned %d records, want %d", n, got, len(paths)-n)
		}
	})
}

func TestRecord_JSON(t *testing.T) {
	t.Run("Structured", func(t *testing.T) {
		rec := Record{Structured: true, Body: map[string]interface{}{"goal": "x"}}
		obj, err := rec.JSON()
		require.NoError(t, err)
		assert.Equal(t, "x", obj["goal"])
	})

	t.Run("RawTextDecodedOnDemand", func(t *testing.T) {
		rec := Record{Raw: `{"goal":"from text"}`, Body: `{"goal":"from text"}`}
		obj, err := rec.JSON()
		require.NoError(t, err)
		assert.Equal(t, "from text", obj["goal"])
	})

	t.Run("StructuredArrayIsNotAnObject", func(t *testing.T) {
		rec := Record{Structured: true, Body: []interface{}{1.0}}
		_, err := rec.JSON()
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := Record{Raw: "not json"}.JSON()
		assert.Error(t, err)
	})

	t.Run("Null", func(t *testing.T) {
		_, err := Record{Raw: "null"}.JSON()
		assert.Error(t, err)
	})
}
