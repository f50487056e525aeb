package resource

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

// Fetcher loads the decoded, authenticated resources of the protocol.
type Fetcher interface {
	KidList(ctx context.Context) (*KidList, error)
	KidTypeIndex(ctx context.Context, kid certificate.KID, ht certificate.HashType) (*KidTypeIndex, error)
	KidTypeChunk(ctx context.Context, kid certificate.KID, ht certificate.HashType, coord certificate.Coordinate) (*Chunk, error)
}

// Client is the Fetcher backed by a Transport and a Verifier.
type Client struct {
	transport Transport
	verifier  Verifier
	logger    log.Logger
}

func NewClient(transport Transport, verifier Verifier, logger log.Logger) *Client {
	return &Client{transport: transport, verifier: verifier, logger: logger}
}

func (c *Client) load(ctx context.Context, d Descriptor) ([]byte, error) {
	signed, err := c.transport.Fetch(ctx, d)
	if err != nil {
		return nil, err
	}
	payload, err := c.verifier.Verify(signed)
	if err != nil {
		level.Error(c.logger).Log("err", err, "msg", "Could not verify "+d.Path())
		return nil, err
	}
	return payload, nil
}

func (c *Client) KidList(ctx context.Context) (*KidList, error) {
	d := KidListDescriptor{}
	payload, err := c.load(ctx, d)
	if err != nil {
		return nil, err
	}
	l, err := DecodeKidList(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path(), err)
	}
	level.Debug(c.logger).Log("msg", "KID list loaded", "kids", l.Len())
	return l, nil
}

func (c *Client) KidTypeIndex(ctx context.Context, kid certificate.KID, ht certificate.HashType) (*KidTypeIndex, error) {
	d := KidTypeIndexDescriptor{KID: kid, HashType: ht}
	payload, err := c.load(ctx, d)
	if err != nil {
		return nil, err
	}
	idx, err := DecodeKidTypeIndex(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path(), err)
	}
	return idx, nil
}

func (c *Client) KidTypeChunk(ctx context.Context, kid certificate.KID, ht certificate.HashType, coord certificate.Coordinate) (*Chunk, error) {
	d := KidTypeChunkDescriptor{KID: kid, HashType: ht, Coordinate: coord}
	payload, err := c.load(ctx, d)
	if err != nil {
		return nil, err
	}
	chunk, err := DecodeChunk(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path(), err)
	}
	return chunk, nil
}
