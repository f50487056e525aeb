package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

type Middleware func(Fetcher) Fetcher

type instrumentingMiddleware struct {
	fetchCount   metrics.Counter
	fetchLatency metrics.Histogram
	next         Fetcher
}

// NewInstrumentingMiddleware counts fetches by resource kind and outcome.
func NewInstrumentingMiddleware(counter metrics.Counter, latency metrics.Histogram) Middleware {
	return func(next Fetcher) Fetcher {
		return &instrumentingMiddleware{
			fetchCount:   counter,
			fetchLatency: latency,
			next:         next,
		}
	}
}

func (mw *instrumentingMiddleware) observe(kind Kind, begin time.Time, err error) {
	lvs := []string{"kind", string(kind), "error", fmt.Sprint(err != nil)}
	mw.fetchCount.With(lvs...).Add(1)
	mw.fetchLatency.With(lvs...).Observe(time.Since(begin).Seconds())
}

func (mw *instrumentingMiddleware) KidList(ctx context.Context) (l *KidList, err error) {
	defer func(begin time.Time) { mw.observe(KindKidList, begin, err) }(time.Now())
	return mw.next.KidList(ctx)
}

func (mw *instrumentingMiddleware) KidTypeIndex(ctx context.Context, kid certificate.KID, ht certificate.HashType) (idx *KidTypeIndex, err error) {
	defer func(begin time.Time) { mw.observe(KindKidTypeIndex, begin, err) }(time.Now())
	return mw.next.KidTypeIndex(ctx, kid, ht)
}

func (mw *instrumentingMiddleware) KidTypeChunk(ctx context.Context, kid certificate.KID, ht certificate.HashType, coord certificate.Coordinate) (c *Chunk, err error) {
	defer func(begin time.Time) { mw.observe(KindKidTypeChunk, begin, err) }(time.Now())
	return mw.next.KidTypeChunk(ctx, kid, ht, coord)
}
