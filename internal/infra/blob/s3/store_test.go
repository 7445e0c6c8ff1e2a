package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"startpop/internal/blob/core"
)

func TestMockStore_PutGetHead(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(0)
	body := "idhh,idbenefitunit\n1,10\n"
	info, err := store.Put(ctx, "uk/population_initial_2017.csv", strings.NewReader(body), core.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(body)) {
		t.Fatalf("size %d", info.Size)
	}
	if _, err := store.Put(ctx, "uk/population_initial_2017.csv", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := store.Get(ctx, "uk/population_initial_2017.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != body || got.ContentType != "text/csv" || got.ETag == "" {
		t.Fatalf("unexpected get %q %+v", b, got)
	}
}

func TestMockStore_MissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(0)
	if _, err := store.Head(ctx, "uk/missing.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "uk/missing.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
}

func TestMockStore_ListPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(1)
	for _, k := range []string{"uk/b.csv", "uk/a.csv", "it/c.csv"} {
		if _, err := store.Put(ctx, k, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "uk/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "uk/a.csv" || list[1].Key != "uk/b.csv" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	st, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if st.Bucket() != "b" || st.Driver() != core.DriverS3 {
		t.Fatalf("unexpected store %+v", st)
	}
}
