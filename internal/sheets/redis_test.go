package sheets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeKV is an in-memory stand-in for the redis client.
type fakeKV struct {
	data   map[string]string
	ttl    time.Duration
	getErr error
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttl = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisMirror(t *testing.T) {
	kv := &fakeKV{data: map[string]string{}}
	m := NewRedisMirror(kv, "sheetchunk:sheets", time.Hour)
	ctx := context.Background()

	if _, ok, err := m.Load(ctx); ok || err != nil {
		t.Fatalf("Load() on empty = %v, %v", ok, err)
	}

	snap := testSnapshot()
	if err := m.Store(ctx, snap); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if kv.ttl != time.Hour {
		t.Errorf("ttl = %v", kv.ttl)
	}

	got, ok, err := m.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if got.Title != snap.Title || len(got.Sheets) != 2 || got.Sheets[0].Values[1][0] != "Veterans" {
		t.Errorf("round trip = %+v", got)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := m.Load(ctx); ok {
		t.Error("Load() after Clear should find nothing")
	}
}

func TestRedisMirror_Errors(t *testing.T) {
	kv := &fakeKV{data: map[string]string{"k": "{not json"}}
	m := NewRedisMirror(kv, "k", time.Minute)
	if _, _, err := m.Load(context.Background()); err == nil {
		t.Error("Load() should fail on corrupt data")
	}

	kv.getErr = errors.New("connection refused")
	if _, _, err := m.Load(context.Background()); err == nil {
		t.Error("Load() should surface connection errors")
	}
}
