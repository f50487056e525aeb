package vault

import (
	"errors"
	"fmt"

	"github.com/lamassuiot/dcc-revocation/pkg/resource"
	"github.com/lamassuiot/dcc-revocation/pkg/secrets/trust"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/hashicorp/vault/api"
)

const anchorField = "certificate"

var ErrMissingSecret = errors.New("trust anchor secret not found")

type vaultSecrets struct {
	client *api.Client
	path   string
	logger log.Logger
}

// NewVaultSecrets logs in with AppRole and reads the anchors from the
// "certificate" field of the secret at path.
func NewVaultSecrets(address, roleID, secretID, caCert, path string, logger log.Logger) (trust.Secrets, error) {
	conf := api.DefaultConfig()
	conf.Address = address
	if caCert != "" {
		if err := conf.ConfigureTLS(&api.TLSConfig{CACert: caCert}); err != nil {
			return nil, err
		}
	}
	client, err := api.NewClient(conf)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not create Vault API client")
		return nil, err
	}
	if err := login(client, roleID, secretID); err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not login into Vault")
		return nil, err
	}
	return newFromClient(client, path, logger), nil
}

func newFromClient(client *api.Client, path string, logger log.Logger) *vaultSecrets {
	return &vaultSecrets{client: client, path: path, logger: logger}
}

func login(client *api.Client, roleID string, secretID string) error {
	loginPath := "auth/approle/login"
	options := map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	}
	resp, err := client.Logical().Write(loginPath, options)
	if err != nil {
		return err
	}
	if resp == nil || resp.Auth == nil {
		return errors.New("approle login returned no token")
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}

func (vs *vaultSecrets) GetTrustAnchors() ([]resource.TrustAnchor, error) {
	resp, err := vs.client.Logical().Read(vs.path)
	if err != nil {
		level.Error(vs.logger).Log("err", err, "msg", "Could not read trust anchors from Vault")
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSecret, vs.path)
	}
	data := resp.Data
	// KV v2 nests the secret under "data"
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}
	pemData, ok := data[anchorField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q field", ErrMissingSecret, vs.path, anchorField)
	}
	anchors, err := trust.ParseTrustAnchors([]byte(pemData))
	if err != nil {
		level.Error(vs.logger).Log("err", err, "msg", "Could not parse trust anchors from Vault")
		return nil, err
	}
	level.Info(vs.logger).Log("msg", "Trust anchors loaded from Vault", "count", len(anchors))
	return anchors, nil
}
