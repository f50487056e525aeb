package revocation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
	"github.com/lamassuiot/dcc-revocation/pkg/depot"
	"github.com/lamassuiot/dcc-revocation/pkg/depot/memory"
	"github.com/lamassuiot/dcc-revocation/pkg/resource"
)

var (
	kidF5 = mustKID("f5c5970c3039d854")
	kidAA = mustKID("aaaaaaaaaaaaaaaa")
)

func mustKID(s string) certificate.KID {
	kid, err := certificate.ParseKIDHex(s)
	if err != nil {
		panic(err)
	}
	return kid
}

func newCert(kid certificate.KID, n int) certificate.HealthCertificate {
	sig := make([]byte, 64)
	copy(sig, fmt.Sprintf("signature-%d", n))
	return certificate.HealthCertificate{
		KID:       kid,
		UCI:       fmt.Sprintf("URN:UVCI:01DE/TEST/%d", n),
		Country:   "DE",
		Signature: sig,
		Algorithm: certificate.AlgorithmES256,
	}
}

// fakeServer plays the revocation server: it revokes hashes and serves the
// resulting kid list, indexes and chunks through the Fetcher interface.
type fakeServer struct {
	mu       sync.Mutex
	kids     []resource.KidListEntry
	buckets  map[string][][]byte
	decoys   map[string][]byte
	calls    map[string]int
	failPath string
	failErr  error
	delay    time.Duration
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		buckets: map[string][][]byte{},
		decoys:  map[string][]byte{},
		calls:   map[string]int{},
	}
}

func (s *fakeServer) addKID(kid certificate.KID, types ...certificate.HashType) {
	s.kids = append(s.kids, resource.KidListEntry{KID: kid, HashTypes: types})
}

func (s *fakeServer) revoke(t *testing.T, cert certificate.HealthCertificate, ht certificate.HashType) {
	t.Helper()
	hash, err := cert.Hash(ht)
	require.NoError(t, err)
	coord, err := certificate.NewCoordinate(hash)
	require.NoError(t, err)
	d := resource.KidTypeChunkDescriptor{KID: cert.KID, HashType: ht, Coordinate: coord}
	s.buckets[d.Path()] = append(s.buckets[d.Path()], hash)
}

func (s *fakeServer) addDecoy(kid certificate.KID, ht certificate.HashType, x, y byte) {
	key := resource.KidTypeIndexDescriptor{KID: kid, HashType: ht}.Path()
	s.decoys[key] = append(s.decoys[key], x, y)
}

func (s *fakeServer) record(d resource.Descriptor) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[d.Path()]++
	if s.failPath != "" && s.failPath == d.Path() {
		return s.failErr
	}
	return nil
}

func (s *fakeServer) count(d resource.Descriptor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[d.Path()]
}

func (s *fakeServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *fakeServer) KidList(ctx context.Context) (*resource.KidList, error) {
	if err := s.record(resource.KidListDescriptor{}); err != nil {
		return nil, err
	}
	return resource.NewKidList(s.kids), nil
}

func (s *fakeServer) KidTypeIndex(ctx context.Context, kid certificate.KID, ht certificate.HashType) (*resource.KidTypeIndex, error) {
	d := resource.KidTypeIndexDescriptor{KID: kid, HashType: ht}
	if err := s.record(d); err != nil {
		return nil, err
	}
	var items []resource.IndexItem
	for path, hashes := range s.buckets {
		for _, h := range hashes {
			chunk := resource.KidTypeChunkDescriptor{KID: kid, HashType: ht, Coordinate: certificate.Coordinate{X: h[0], Y: h[1]}}
			if chunk.Path() == path {
				items = append(items, resource.IndexItem{X: h[0], Y: []byte{h[1]}})
			}
		}
	}
	pairs := s.decoys[d.Path()]
	for i := 0; i+1 < len(pairs); i += 2 {
		items = append(items, resource.IndexItem{X: pairs[i], Y: []byte{pairs[i+1]}})
	}
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	return resource.NewKidTypeIndex(items), nil
}

func (s *fakeServer) KidTypeChunk(ctx context.Context, kid certificate.KID, ht certificate.HashType, coord certificate.Coordinate) (*resource.Chunk, error) {
	d := resource.KidTypeChunkDescriptor{KID: kid, HashType: ht, Coordinate: coord}
	if err := s.record(d); err != nil {
		return nil, err
	}
	return resource.NewChunk(s.buckets[d.Path()])
}

func newEngine(t *testing.T, f resource.Fetcher, d depot.Depot) *Engine {
	t.Helper()
	e, err := NewService(context.Background(), f, d)
	require.NoError(t, err)
	return e
}

func chunkPath(t *testing.T, cert certificate.HealthCertificate, ht certificate.HashType) resource.KidTypeChunkDescriptor {
	t.Helper()
	hash, err := cert.Hash(ht)
	require.NoError(t, err)
	coord, err := certificate.NewCoordinate(hash)
	require.NoError(t, err)
	return resource.KidTypeChunkDescriptor{KID: cert.KID, HashType: ht, Coordinate: coord}
}

func TestUpdateCacheScenario(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeSignature, certificate.HashTypeUCI)
	c := newCert(kidF5, 1)
	d := newCert(kidAA, 2)
	srv.revoke(t, c, certificate.HashTypeSignature)

	store := memory.NewMemory()
	at := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	e, err := NewService(context.Background(), srv, store, WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c, d})
	require.NoError(t, err)
	assert.Equal(t, []certificate.HealthCertificate{c}, revoked)
	assert.True(t, e.IsRevokedFromRevocationList(c))
	assert.False(t, e.IsRevokedFromRevocationList(d))

	persisted, err := store.GetRevokedCertificates(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, c.Identifier(), persisted[0].Identifier)
	assert.Equal(t, "f5c5970c3039d854", persisted[0].KID)
	assert.Equal(t, certificate.HashTypeSignature, persisted[0].HashType)
	assert.Equal(t, at, persisted[0].RevokedAt)
}

func TestUnknownKIDNeedsNoFurtherFetch(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeUCI)
	d := newCert(kidAA, 1)

	e := newEngine(t, srv, memory.NewMemory())
	revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{d})
	require.NoError(t, err)
	assert.Empty(t, revoked)
	assert.False(t, e.IsRevokedFromRevocationList(d))
	assert.Equal(t, 1, srv.total(), "only the kid list is fetched")
}

func TestEmptyBatch(t *testing.T) {
	srv := newFakeServer()
	store := memory.NewMemory()
	require.NoError(t, store.ReplaceRevokedCertificates(context.Background(), []depot.RevokedCertificate{{Identifier: "old"}}))

	e := newEngine(t, srv, store)
	revoked, err := e.UpdateCache(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, revoked)
	assert.Empty(t, revoked)
	assert.Equal(t, 0, srv.total())

	persisted, err := store.GetRevokedCertificates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestShortCircuitAfterFirstHashType(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeCountryCodeUCI, certificate.HashTypeUCI, certificate.HashTypeSignature)
	c := newCert(kidF5, 1)
	srv.revoke(t, c, certificate.HashTypeSignature)
	srv.revoke(t, c, certificate.HashTypeUCI)

	store := memory.NewMemory()
	e := newEngine(t, srv, store)
	revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
	require.NoError(t, err)
	require.Len(t, revoked, 1)

	assert.Equal(t, 1, srv.count(chunkPath(t, c, certificate.HashTypeSignature)))
	assert.Equal(t, 0, srv.count(chunkPath(t, c, certificate.HashTypeUCI)))
	assert.Equal(t, 0, srv.count(resource.KidTypeIndexDescriptor{KID: kidF5, HashType: certificate.HashTypeUCI}))

	persisted, err := store.GetRevokedCertificates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, certificate.HashTypeSignature, persisted[0].HashType)
}

func TestLaterHashTypeRevokes(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeSignature, certificate.HashTypeUCI, certificate.HashTypeCountryCodeUCI)
	c := newCert(kidF5, 1)
	srv.revoke(t, c, certificate.HashTypeCountryCodeUCI)

	e := newEngine(t, srv, memory.NewMemory())
	revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
	require.NoError(t, err)
	assert.Len(t, revoked, 1)
	assert.True(t, e.IsRevokedFromRevocationList(c))
}

func TestMissingHashInputIsNotRevoked(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeCountryCodeUCI)
	c := newCert(kidF5, 1)
	srv.revoke(t, c, certificate.HashTypeCountryCodeUCI)
	c.Country = ""

	e := newEngine(t, srv, memory.NewMemory())
	revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
	require.NoError(t, err)
	assert.Empty(t, revoked)
}

func TestUnsignedCertificatesKeepSeparateVerdicts(t *testing.T) {
	unsigned := func(n int) certificate.HealthCertificate {
		c := newCert(kidF5, n)
		c.Signature = nil
		return c
	}
	a, b, c := unsigned(1), unsigned(2), unsigned(3)

	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeSignature, certificate.HashTypeUCI)
	srv.revoke(t, a, certificate.HashTypeUCI)
	srv.revoke(t, b, certificate.HashTypeUCI)

	e := newEngine(t, srv, memory.NewMemory())
	revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, []certificate.HealthCertificate{a, b}, revoked)
	assert.True(t, e.IsRevokedFromRevocationList(a))
	assert.True(t, e.IsRevokedFromRevocationList(b))
	assert.False(t, e.IsRevokedFromRevocationList(c))
}

func TestDecoyForOwnBucketFetchesChunkButDoesNotRevoke(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeUCI)
	c := newCert(kidF5, 1)
	own := chunkPath(t, c, certificate.HashTypeUCI)
	srv.addDecoy(kidF5, certificate.HashTypeUCI, own.Coordinate.X, own.Coordinate.Y)
	srv.addDecoy(kidF5, certificate.HashTypeUCI, own.Coordinate.X, own.Coordinate.Y+1)

	e := newEngine(t, srv, memory.NewMemory())
	revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
	require.NoError(t, err)
	assert.Empty(t, revoked)
	assert.Equal(t, 1, srv.count(own))

	other := resource.KidTypeChunkDescriptor{KID: kidF5, HashType: certificate.HashTypeUCI,
		Coordinate: certificate.Coordinate{X: own.Coordinate.X, Y: own.Coordinate.Y + 1}}
	assert.Equal(t, 0, srv.count(other), "only the certificate's own bucket is fetched")
}

func TestFetchesAreSharedAcrossCertificates(t *testing.T) {
	srv := newFakeServer()
	srv.delay = 5 * time.Millisecond
	srv.addKID(kidF5, certificate.HashTypeUCI)
	c := newCert(kidF5, 1)
	srv.revoke(t, c, certificate.HashTypeUCI)

	batch := make([]certificate.HealthCertificate, 20)
	for i := range batch {
		batch[i] = c
	}

	e, err := NewService(context.Background(), srv, memory.NewMemory(), WithConcurrency(20))
	require.NoError(t, err)
	revoked, err := e.UpdateCache(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, revoked, 1, "duplicates are reported once")

	assert.Equal(t, 1, srv.count(resource.KidListDescriptor{}))
	assert.Equal(t, 1, srv.count(resource.KidTypeIndexDescriptor{KID: kidF5, HashType: certificate.HashTypeUCI}))
	assert.Equal(t, 1, srv.count(chunkPath(t, c, certificate.HashTypeUCI)))
}

func TestFetchesAreSharedAcrossDistinctCertificates(t *testing.T) {
	srv := newFakeServer()
	srv.delay = 2 * time.Millisecond
	srv.addKID(kidF5, certificate.HashTypeUCI)

	var batch []certificate.HealthCertificate
	coords := map[string]bool{}
	for i := 0; i < 40; i++ {
		c := newCert(kidF5, i)
		if i%4 == 0 {
			srv.revoke(t, c, certificate.HashTypeUCI)
		}
		batch = append(batch, c)
	}
	// every certificate's bucket is populated, so each one needs its chunk
	for _, c := range batch {
		own := chunkPath(t, c, certificate.HashTypeUCI)
		srv.addDecoy(kidF5, certificate.HashTypeUCI, own.Coordinate.X, own.Coordinate.Y)
		coords[own.Path()] = true
	}
	// duplicates only add reuse
	batch = append(batch, batch[:10]...)

	e, err := NewService(context.Background(), srv, memory.NewMemory(), WithConcurrency(16))
	require.NoError(t, err)
	revoked, err := e.UpdateCache(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, revoked, 10)

	assert.Equal(t, 1, srv.count(resource.KidListDescriptor{}))
	assert.Equal(t, 1, srv.count(resource.KidTypeIndexDescriptor{KID: kidF5, HashType: certificate.HashTypeUCI}))
	assert.Equal(t, 2+len(coords), srv.total(), "one fetch per distinct chunk")
	for path := range coords {
		srv.mu.Lock()
		n := srv.calls[path]
		srv.mu.Unlock()
		assert.Equal(t, 1, n, path)
	}
}

func TestIdempotentUpdates(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeSignature, certificate.HashTypeUCI)
	var batch []certificate.HealthCertificate
	for i := 0; i < 10; i++ {
		c := newCert(kidF5, i)
		if i%3 == 0 {
			srv.revoke(t, c, certificate.HashTypeUCI)
		}
		batch = append(batch, c)
	}

	store := memory.NewMemory()
	e := newEngine(t, srv, store)
	first, err := e.UpdateCache(context.Background(), batch)
	require.NoError(t, err)
	firstStore, err := store.GetRevokedCertificates(context.Background())
	require.NoError(t, err)

	second, err := e.UpdateCache(context.Background(), batch)
	require.NoError(t, err)
	secondStore, err := store.GetRevokedCertificates(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 4)
	ids := func(rcs []depot.RevokedCertificate) []string {
		out := make([]string, len(rcs))
		for i, rc := range rcs {
			out[i] = rc.Identifier
		}
		return out
	}
	assert.Equal(t, ids(firstStore), ids(secondStore))
}

func TestOrderIndependence(t *testing.T) {
	var batch []certificate.HealthCertificate
	build := func(seed int64) *fakeServer {
		srv := newFakeServer()
		kids := []resource.KidListEntry{
			{KID: kidAA, HashTypes: []certificate.HashType{certificate.HashTypeUCI}},
			{KID: kidF5, HashTypes: []certificate.HashType{certificate.HashTypeUCI, certificate.HashTypeSignature}},
		}
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(kids), func(i, j int) { kids[i], kids[j] = kids[j], kids[i] })
		srv.kids = kids
		for i := range batch {
			if i%2 == 0 {
				srv.revoke(t, batch[i], certificate.HashTypeSignature)
			}
		}
		return srv
	}
	for i := 0; i < 8; i++ {
		batch = append(batch, newCert(kidF5, i))
	}

	var want []certificate.HealthCertificate
	for seed := int64(0); seed < 5; seed++ {
		e := newEngine(t, build(seed), memory.NewMemory())
		got, err := e.UpdateCache(context.Background(), batch)
		require.NoError(t, err)
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want, got)
	}
	assert.Len(t, want, 4)
}

func TestFailedFetchLeavesSnapshotUntouched(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"network", fmt.Errorf("%w: connection reset", resource.ErrNetwork), KindNetwork},
		{"signature", fmt.Errorf("%w: bad signature", resource.ErrSignatureVerification), KindSignatureVerification},
		{"decoding", fmt.Errorf("%w: truncated", resource.ErrDecoding), KindDecoding},
		{"unclassified", errors.New("boom"), KindNetwork},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("Testing %s", tc.name), func(t *testing.T) {
			srv := newFakeServer()
			srv.addKID(kidF5, certificate.HashTypeUCI)
			old := newCert(kidF5, 1)
			c := newCert(kidF5, 2)
			srv.revoke(t, old, certificate.HashTypeUCI)
			srv.revoke(t, c, certificate.HashTypeUCI)

			store := memory.NewMemory()
			e := newEngine(t, srv, store)
			_, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{old})
			require.NoError(t, err)
			before, err := store.GetRevokedCertificates(context.Background())
			require.NoError(t, err)

			srv.failPath = chunkPath(t, c, certificate.HashTypeUCI).Path()
			srv.failErr = tc.err
			revoked, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
			require.Error(t, err)
			assert.Nil(t, revoked)

			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.kind, perr.Kind)

			after, err := store.GetRevokedCertificates(context.Background())
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.True(t, e.IsRevokedFromRevocationList(old))
			assert.False(t, e.IsRevokedFromRevocationList(c))
		})
	}
}

type failingDepot struct {
	depot.Depot
	err error
}

func (d failingDepot) ReplaceRevokedCertificates(ctx context.Context, revoked []depot.RevokedCertificate) error {
	return d.err
}

func TestPersistenceFailureKeepsPublishedSnapshot(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeUCI)
	c := newCert(kidF5, 1)
	srv.revoke(t, c, certificate.HashTypeUCI)

	e := newEngine(t, srv, failingDepot{Depot: memory.NewMemory(), err: errors.New("disk full")})
	_, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.False(t, e.IsRevokedFromRevocationList(c))
}

func TestCanceledContextFailsWholeBatch(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeUCI)
	c := newCert(kidF5, 1)
	srv.revoke(t, c, certificate.HashTypeUCI)

	store := memory.NewMemory()
	e := newEngine(t, srv, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.UpdateCache(ctx, []certificate.HealthCertificate{c})
	require.Error(t, err)
	assert.False(t, e.IsRevokedFromRevocationList(c))
}

func TestSnapshotLoadedAtStartupAndReset(t *testing.T) {
	c := newCert(kidF5, 1)
	store := memory.NewMemory()
	require.NoError(t, store.ReplaceRevokedCertificates(context.Background(), []depot.RevokedCertificate{
		{Identifier: c.Identifier(), KID: c.KID.Hex(), HashType: certificate.HashTypeUCI, RevokedAt: time.Now()},
	}))

	e := newEngine(t, newFakeServer(), store)
	assert.True(t, e.IsRevokedFromRevocationList(c))

	require.NoError(t, e.ResetSnapshot(context.Background()))
	assert.False(t, e.IsRevokedFromRevocationList(c))
	persisted, err := store.GetRevokedCertificates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestNothingRevokedBeforeFirstUpdate(t *testing.T) {
	e := newEngine(t, newFakeServer(), memory.NewMemory())
	for i := 0; i < 5; i++ {
		assert.False(t, e.IsRevokedFromRevocationList(newCert(kidF5, i)))
	}
}

func TestConcurrentReadsDuringUpdates(t *testing.T) {
	srv := newFakeServer()
	srv.addKID(kidF5, certificate.HashTypeUCI)
	c := newCert(kidF5, 1)
	srv.revoke(t, c, certificate.HashTypeUCI)

	e := newEngine(t, srv, memory.NewMemory())
	_, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					assert.True(t, e.IsRevokedFromRevocationList(c))
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_, err := e.UpdateCache(context.Background(), []certificate.HealthCertificate{c})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
