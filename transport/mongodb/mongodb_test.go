package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/eventbus/transport"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"syreclabs.com/go/faker"
)

// testDatabase connects to EVENTBUS_TEST_MONGO_URI or skips the test.
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("EVENTBUS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("EVENTBUS_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	db := client.Database("eventbus_test_" + faker.Lorem().Characters(8))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

func TestNewRequiresDatabase(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrDatabaseRequired) {
		t.Errorf("expected ErrDatabaseRequired, got %v", err)
	}
}

func TestVisible(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-time.Second)
	stale := now.Add(-time.Minute)
	docs := func(inserted time.Time, seqs ...int64) []entryDoc {
		out := make([]entryDoc, len(seqs))
		for i, s := range seqs {
			out[i] = entryDoc{Topic: "a.b", Seq: s, Inserted: inserted}
		}
		return out
	}
	seqs := func(ds []entryDoc) []int64 {
		out := []int64{}
		for _, d := range ds {
			out = append(out, d.Seq)
		}
		return out
	}

	tests := []struct {
		name          string
		after         int64
		afterRetained bool
		docs          []entryDoc
		want          []int64
	}{
		{"contiguous", 3, true, docs(fresh, 4, 5, 6), []int64{4, 5, 6}},
		{"hole in flight", 3, true, docs(fresh, 4, 6, 7), []int64{4}},
		{"hole after cursor in flight", 3, true, docs(fresh, 5, 6), []int64{}},
		{"hole after trimmed cursor", 3, false, docs(fresh, 40, 41), []int64{40, 41}},
		{"from the beginning after trim", 0, false, docs(fresh, 500, 501), []int64{500, 501}},
		{"failed append skipped", 3, true, docs(stale, 4, 6, 7), []int64{4, 6, 7}},
		{"empty", 3, true, nil, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := seqs(visible(tt.after, tt.afterRetained, tt.docs, now, DefaultGapTimeout))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("visible mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLog(t *testing.T) {
	ctx := context.Background()
	db := testDatabase(t)

	l, err := New(db, WithMaxLen(10))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := l.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	ts := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := range 25 {
		id, err := l.Append(ctx, transport.Entry{Topic: "a.b", Timestamp: ts, Data: []byte(fmt.Sprintf("e%d", i))})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		ids = append(ids, id)
	}
	if ids[0] != "1" || ids[24] != "25" {
		t.Errorf("unexpected cursors %s..%s", ids[0], ids[24])
	}

	t.Run("approximate trim", func(t *testing.T) {
		n, err := l.Len(ctx, "a.b")
		if err != nil {
			t.Fatalf("Len failed: %v", err)
		}
		if n < 10 || n > 11 {
			t.Errorf("expected roughly 10 entries, got %d", n)
		}
	})

	t.Run("read after cursor", func(t *testing.T) {
		entries, err := l.Read(ctx, "a.b", ids[20], 2)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(entries) != 2 || string(entries[0].Data) != "e21" || entries[0].ID != "22" {
			t.Errorf("unexpected entries %+v", entries)
		}
		if !entries[0].Timestamp.Equal(ts) {
			t.Errorf("expected timestamp %v, got %v", ts, entries[0].Timestamp)
		}
	})

	t.Run("health", func(t *testing.T) {
		if res := l.Health(ctx); !res.IsHealthy() {
			t.Errorf("expected healthy, got %s", res.Message)
		}
	})
}
