package revocation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
	"github.com/lamassuiot/dcc-revocation/pkg/depot"
	"github.com/lamassuiot/dcc-revocation/pkg/resource"
)

type Service interface {
	Health(ctx context.Context) bool
	// UpdateCache determines which of certs are revoked and replaces the
	// persisted snapshot with exactly that set. On error nothing is written.
	UpdateCache(ctx context.Context, certs []certificate.HealthCertificate) ([]certificate.HealthCertificate, error)
	// IsRevokedFromRevocationList answers from the last successful snapshot
	// without network access.
	IsRevokedFromRevocationList(cert certificate.HealthCertificate) bool
	ResetSnapshot(ctx context.Context) error
}

const defaultConcurrency = 8

type Engine struct {
	fetcher     resource.Fetcher
	depot       depot.Depot
	logger      log.Logger
	concurrency int
	now         func() time.Time

	current  atomic.Pointer[snapshot]
	commitMu sync.Mutex
}

type Option func(*Engine)

func WithLogger(logger log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithConcurrency bounds how many certificates are evaluated at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewService loads the last persisted snapshot so that local queries work
// before the first update of this process.
func NewService(ctx context.Context, fetcher resource.Fetcher, d depot.Depot, opts ...Option) (*Engine, error) {
	e := &Engine{
		fetcher:     fetcher,
		depot:       d,
		logger:      log.NewNopLogger(),
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	records, err := d.GetRevokedCertificates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load revocation snapshot: %w", err)
	}
	e.current.Store(newSnapshot(records))
	level.Info(e.logger).Log("msg", "Revocation snapshot loaded", "revoked", len(records))
	return e, nil
}

func (e *Engine) Health(ctx context.Context) bool {
	return true
}

func (e *Engine) IsRevokedFromRevocationList(cert certificate.HealthCertificate) bool {
	return e.current.Load().contains(cert.Identifier())
}

func (e *Engine) ResetSnapshot(ctx context.Context) error {
	if err := e.commit(ctx, nil); err != nil {
		return err
	}
	level.Info(e.logger).Log("msg", "Revocation snapshot reset")
	return nil
}

func (e *Engine) UpdateCache(ctx context.Context, certs []certificate.HealthCertificate) ([]certificate.HealthCertificate, error) {
	table := newFetchTable(e.fetcher)
	verdicts := make([]*certificate.HashType, len(certs))

	if len(certs) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for i := range certs {
			i := i
			g.Go(func() error {
				ht, revoked, err := e.evaluate(gctx, table, &certs[i])
				if err != nil {
					return err
				}
				if revoked {
					verdicts[i] = &ht
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			perr := newProviderError(err)
			level.Error(e.logger).Log("err", perr, "msg", "Revocation update aborted, snapshot left untouched")
			return nil, perr
		}
	}

	now := e.now()
	revoked := []certificate.HealthCertificate{}
	var records []depot.RevokedCertificate
	seen := make(map[string]bool)
	for i, ht := range verdicts {
		if ht == nil {
			continue
		}
		id := certs[i].Identifier()
		if seen[id] {
			continue
		}
		seen[id] = true
		revoked = append(revoked, certs[i])
		records = append(records, depot.RevokedCertificate{
			Identifier: id,
			KID:        certs[i].KID.Hex(),
			HashType:   *ht,
			RevokedAt:  now,
		})
	}

	if err := e.commit(ctx, records); err != nil {
		return nil, err
	}
	level.Info(e.logger).Log(
		"msg", "Revocation update finished",
		"certificates", len(certs),
		"revoked", len(revoked),
		"fetches", atomic.LoadInt64(&table.fetches),
		"reused", atomic.LoadInt64(&table.reuses),
	)
	return revoked, nil
}

// evaluate walks the hash types of the certificate's KID in tag order and
// stops at the first one whose bucket holds the certificate's hash.
func (e *Engine) evaluate(ctx context.Context, f resource.Fetcher, cert *certificate.HealthCertificate) (certificate.HashType, bool, error) {
	kids, err := f.KidList(ctx)
	if err != nil {
		return 0, false, err
	}
	types, ok := kids.HashTypes(cert.KID)
	if !ok {
		return 0, false, nil
	}

	for _, ht := range types {
		hash, err := cert.Hash(ht)
		if err != nil {
			level.Debug(e.logger).Log("msg", "Skipping hash type", "kid", cert.KID.Hex(), "hash_type", ht.String(), "err", err)
			continue
		}
		coord, err := certificate.NewCoordinate(hash)
		if err != nil {
			continue
		}

		idx, err := f.KidTypeIndex(ctx, cert.KID, ht)
		if err != nil {
			return 0, false, err
		}
		// Y may list decoys; only our own y is ever looked up
		item, ok := idx.Item(coord.X)
		if !ok || bytes.IndexByte(item.Y, coord.Y) < 0 {
			continue
		}

		chunk, err := f.KidTypeChunk(ctx, cert.KID, ht, coord)
		if err != nil {
			return 0, false, err
		}
		if chunk.Contains(hash) {
			return ht, true, nil
		}
	}
	return 0, false, nil
}

// commit persists records and then publishes them to readers. Commits are
// serialized so two runs cannot interleave depot write and publication.
func (e *Engine) commit(ctx context.Context, records []depot.RevokedCertificate) error {
	next := newSnapshot(records)

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if err := ctx.Err(); err != nil {
		return newProviderError(err)
	}
	if err := e.depot.ReplaceRevokedCertificates(ctx, records); err != nil {
		level.Error(e.logger).Log("err", err, "msg", "Could not persist revocation snapshot")
		return &ProviderError{Kind: KindPersistence, Err: errors.Join(ErrPersistence, err)}
	}
	e.current.Store(next)
	level.Debug(e.logger).Log("msg", "Revocation snapshot published", "revoked", next.len())
	return nil
}
