package revocation

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

type Middleware func(Service) Service

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger log.Logger
}

func (mw loggingMiddleware) Health(ctx context.Context) (healthy bool) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Health",
			"healthy", healthy,
			"took", time.Since(begin),
		)
	}(time.Now())
	return mw.next.Health(ctx)
}

func (mw loggingMiddleware) UpdateCache(ctx context.Context, certs []certificate.HealthCertificate) (revoked []certificate.HealthCertificate, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "UpdateCache",
			"certificates", len(certs),
			"revoked", len(revoked),
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.UpdateCache(ctx, certs)
}

func (mw loggingMiddleware) IsRevokedFromRevocationList(cert certificate.HealthCertificate) (revoked bool) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "IsRevokedFromRevocationList",
			"kid", cert.KID.Hex(),
			"revoked", revoked,
			"took", time.Since(begin),
		)
	}(time.Now())
	return mw.next.IsRevokedFromRevocationList(cert)
}

func (mw loggingMiddleware) ResetSnapshot(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "ResetSnapshot",
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.ResetSnapshot(ctx)
}
