package file

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
	"github.com/lamassuiot/dcc-revocation/pkg/depot"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"tailscale.com/atomicfile"
)

const statusRevoked = "R"

type file struct {
	mu           sync.Mutex
	indexFile    string
	indexEntries []depot.RevokedCertificate
	indexModTime time.Time
	logger       log.Logger
}

// NewFile keeps the snapshot in a tab separated index file. Every replace
// writes a temporary file and renames it over the index.
func NewFile(indexFile string, logger log.Logger) depot.Depot {
	return &file{indexFile: indexFile, logger: logger}
}

func (f *file) GetRevokedCertificates(ctx context.Context) ([]depot.RevokedCertificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.parseIndex(); err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not parse Index File")
		return nil, err
	}
	out := make([]depot.RevokedCertificate, len(f.indexEntries))
	copy(out, f.indexEntries)
	return out, nil
}

func (f *file) ReplaceRevokedCertificates(ctx context.Context, revoked []depot.RevokedCertificate) error {
	var buf bytes.Buffer
	for _, ent := range revoked {
		buf.WriteString(statusRevoked + "\t")
		buf.WriteString(depot.FormatTime(ent.RevokedAt) + "\t")
		buf.WriteString(ent.HashType.Hex() + "\t")
		buf.WriteString(ent.KID + "\t")
		buf.WriteString(ent.Identifier)
		buf.WriteString("\n")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := atomicfile.WriteFile(f.indexFile, buf.Bytes(), 0600); err != nil {
		level.Error(f.logger).Log("err", err, "msg", "Could not overwrite Index File")
		return err
	}
	// force a reload on the next read
	f.indexModTime = time.Time{}
	level.Info(f.logger).Log("msg", "Index File overwritten", "entries", len(revoked))
	return nil
}

// parseIndex reloads the index when its modification time changed.
func (f *file) parseIndex() error {
	finfo, err := os.Stat(f.indexFile)
	if os.IsNotExist(err) {
		f.indexEntries = f.indexEntries[:0]
		f.indexModTime = time.Time{}
		return nil
	}
	if err != nil {
		return err
	}
	if !f.indexModTime.IsZero() && !finfo.ModTime().After(f.indexModTime) {
		return nil
	}
	level.Debug(f.logger).Log("msg", "Index has changed. Updating")

	file, err := os.Open(f.indexFile)
	if err != nil {
		return err
	}
	defer file.Close()

	var entries []depot.RevokedCertificate
	s := bufio.NewScanner(file)
	line := 0
	for s.Scan() {
		line++
		ln := strings.Split(s.Text(), "\t")
		if len(ln) != 5 || ln[0] != statusRevoked {
			// bad line. just carry on
			level.Warn(f.logger).Log("msg", fmt.Sprintf("Skipping malformed line %d of Index File", line))
			continue
		}
		revokedAt, err := depot.ParseTime(ln[1])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		ht, err := certificate.ParseHashType(ln[2])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, depot.RevokedCertificate{
			RevokedAt:  revokedAt,
			HashType:   ht,
			KID:        ln[3],
			Identifier: ln[4],
		})
	}
	if err := s.Err(); err != nil {
		return err
	}
	f.indexEntries = entries
	f.indexModTime = finfo.ModTime()
	return nil
}
