package revocation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
	"github.com/lamassuiot/dcc-revocation/pkg/resource"
)

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// inflight remembers every call of one run by key. The first caller fetches;
// later and concurrent callers get the same value or error.
type inflight[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

func (f *inflight[T]) do(ctx context.Context, key string, fn func() (T, error)) (T, bool, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]*call[T])
	}
	if c, ok := f.calls[key]; ok {
		f.mu.Unlock()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			var zero T
			return zero, true, ctx.Err()
		}
	}
	c := &call[T]{done: make(chan struct{})}
	f.calls[key] = c
	f.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)
	return c.val, false, c.err
}

// fetchTable de-duplicates the fetches of one UpdateCache run. It is dropped
// when the run ends.
type fetchTable struct {
	fetcher resource.Fetcher
	kidList inflight[*resource.KidList]
	indexes inflight[*resource.KidTypeIndex]
	chunks  inflight[*resource.Chunk]

	fetches int64
	reuses  int64
}

func newFetchTable(fetcher resource.Fetcher) *fetchTable {
	return &fetchTable{fetcher: fetcher}
}

func (t *fetchTable) count(reused bool) {
	if reused {
		atomic.AddInt64(&t.reuses, 1)
	} else {
		atomic.AddInt64(&t.fetches, 1)
	}
}

func (t *fetchTable) KidList(ctx context.Context) (*resource.KidList, error) {
	d := resource.KidListDescriptor{}
	l, reused, err := t.kidList.do(ctx, d.Path(), func() (*resource.KidList, error) {
		return t.fetcher.KidList(ctx)
	})
	t.count(reused)
	return l, err
}

func (t *fetchTable) KidTypeIndex(ctx context.Context, kid certificate.KID, ht certificate.HashType) (*resource.KidTypeIndex, error) {
	d := resource.KidTypeIndexDescriptor{KID: kid, HashType: ht}
	idx, reused, err := t.indexes.do(ctx, d.Path(), func() (*resource.KidTypeIndex, error) {
		return t.fetcher.KidTypeIndex(ctx, kid, ht)
	})
	t.count(reused)
	return idx, err
}

func (t *fetchTable) KidTypeChunk(ctx context.Context, kid certificate.KID, ht certificate.HashType, coord certificate.Coordinate) (*resource.Chunk, error) {
	d := resource.KidTypeChunkDescriptor{KID: kid, HashType: ht, Coordinate: coord}
	c, reused, err := t.chunks.do(ctx, d.Path(), func() (*resource.Chunk, error) {
		return t.fetcher.KidTypeChunk(ctx, kid, ht, coord)
	})
	t.count(reused)
	return c, err
}
