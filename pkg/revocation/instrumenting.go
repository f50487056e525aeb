package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

type instrumentingMiddleware struct {
	requestCount   metrics.Counter
	requestLatency metrics.Histogram
	revokedCount   metrics.Counter
	next           Service
}

// NewInstrumentingMiddleware records every call, and for UpdateCache also the
// number of certificates found revoked.
func NewInstrumentingMiddleware(counter metrics.Counter, latency metrics.Histogram, revoked metrics.Counter) Middleware {
	return func(next Service) Service {
		return &instrumentingMiddleware{
			requestCount:   counter,
			requestLatency: latency,
			revokedCount:   revoked,
			next:           next,
		}
	}
}

func (mw *instrumentingMiddleware) observe(method string, begin time.Time, err error) {
	lvs := []string{"method", method, "error", fmt.Sprint(err != nil)}
	mw.requestCount.With(lvs...).Add(1)
	mw.requestLatency.With(lvs...).Observe(time.Since(begin).Seconds())
}

func (mw *instrumentingMiddleware) Health(ctx context.Context) bool {
	defer mw.observe("Health", time.Now(), nil)
	return mw.next.Health(ctx)
}

func (mw *instrumentingMiddleware) UpdateCache(ctx context.Context, certs []certificate.HealthCertificate) (revoked []certificate.HealthCertificate, err error) {
	defer func(begin time.Time) {
		mw.observe("UpdateCache", begin, err)
		if err == nil {
			mw.revokedCount.Add(float64(len(revoked)))
		}
	}(time.Now())
	return mw.next.UpdateCache(ctx, certs)
}

func (mw *instrumentingMiddleware) IsRevokedFromRevocationList(cert certificate.HealthCertificate) bool {
	defer mw.observe("IsRevokedFromRevocationList", time.Now(), nil)
	return mw.next.IsRevokedFromRevocationList(cert)
}

func (mw *instrumentingMiddleware) ResetSnapshot(ctx context.Context) (err error) {
	defer func(begin time.Time) { mw.observe("ResetSnapshot", begin, err) }(time.Now())
	return mw.next.ResetSnapshot(ctx)
}
