package relational

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
	"github.com/lamassuiot/dcc-revocation/pkg/depot"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lib/pq"
)

const connectAttempts = 10

type relationalDB struct {
	db     *sql.DB
	logger log.Logger
}

func NewDB(driverName string, dataSourceName string, logger log.Logger) (depot.Depot, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	err = checkDBAlive(db)
	for i := 1; err != nil; i++ {
		if i == connectAttempts {
			db.Close()
			return nil, err
		}
		level.Warn(logger).Log("msg", "Trying to connect to revocation snapshot database", "err", err)
		time.Sleep(time.Second)
		err = checkDBAlive(db)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &relationalDB{db: db, logger: logger}, nil
}

func checkDBAlive(db *sql.DB) error {
	sqlStatement := `
	SELECT WHERE 1=0`
	rows, err := db.Query(sqlStatement)
	if err != nil {
		return err
	}
	return rows.Close()
}

func createSchema(db *sql.DB) error {
	sqlStatement := `
	CREATE TABLE IF NOT EXISTS revoked_certificates (
		identifier text PRIMARY KEY,
		kid        text NOT NULL,
		hash_type  smallint NOT NULL,
		revoked_at text NOT NULL
	);`
	_, err := db.Exec(sqlStatement)
	return err
}

func (r *relationalDB) GetRevokedCertificates(ctx context.Context) ([]depot.RevokedCertificate, error) {
	sqlStatement := `
	SELECT identifier, kid, hash_type, revoked_at
	FROM revoked_certificates;
	`
	rows, err := r.db.QueryContext(ctx, sqlStatement)
	if err != nil {
		level.Error(r.logger).Log("err", err, "msg", "Could not read revoked certificates from database")
		return nil, err
	}
	defer rows.Close()

	var revoked []depot.RevokedCertificate
	for rows.Next() {
		var (
			rc        depot.RevokedCertificate
			hashType  int
			revokedAt string
		)
		if err := rows.Scan(&rc.Identifier, &rc.KID, &hashType, &revokedAt); err != nil {
			return nil, err
		}
		if rc.HashType, err = certificate.HashTypeFromTag(byte(hashType)); err != nil {
			return nil, err
		}
		if rc.RevokedAt, err = depot.ParseTime(revokedAt); err != nil {
			return nil, err
		}
		revoked = append(revoked, rc)
	}
	return revoked, rows.Err()
}

// ReplaceRevokedCertificates deletes and bulk loads the table in a single
// transaction; readers keep seeing the previous rows until commit.
func (r *relationalDB) ReplaceRevokedCertificates(ctx context.Context, revoked []depot.RevokedCertificate) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				level.Error(r.logger).Log("err", rbErr, "msg", "Could not roll back snapshot replace")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM revoked_certificates;`); err != nil {
		level.Error(r.logger).Log("err", err, "msg", "Could not clear revoked certificates table")
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("revoked_certificates", "identifier", "kid", "hash_type", "revoked_at"))
	if err != nil {
		return err
	}
	for _, rc := range revoked {
		if _, err = stmt.ExecContext(ctx, rc.Identifier, rc.KID, int(rc.HashType), depot.FormatTime(rc.RevokedAt)); err != nil {
			stmt.Close()
			level.Error(r.logger).Log("err", err, "msg", "Could not copy revoked certificate "+rc.Identifier)
			return err
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err = stmt.Close(); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	level.Info(r.logger).Log("msg", "Revoked certificates table replaced", "entries", len(revoked))
	return nil
}
