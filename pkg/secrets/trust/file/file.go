package file

import (
	"os"

	"github.com/lamassuiot/dcc-revocation/pkg/resource"
	"github.com/lamassuiot/dcc-revocation/pkg/secrets/trust"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type file struct {
	path   string
	logger log.Logger
}

func NewFile(path string, logger log.Logger) trust.Secrets {
	return &file{path, logger}
}

func (f *file) GetTrustAnchors() ([]resource.TrustAnchor, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not load trust anchor file")
		return nil, err
	}
	anchors, err := trust.ParseTrustAnchors(data)
	if err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not parse trust anchors")
		return nil, err
	}
	level.Info(f.logger).Log("msg", "Trust anchors loaded", "count", len(anchors))
	return anchors, nil
}
