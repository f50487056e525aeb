package consul

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/lamassuiot/dcc-revocation/pkg/discovery"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	consulsd "github.com/go-kit/kit/sd/consul"
	"github.com/hashicorp/consul/api"
)

const serviceName = "dcc-revocation"

var ErrNotRegistered = errors.New("service was never registered")

type ServiceDiscovery struct {
	client    consulsd.Client
	logger    log.Logger
	registrar *consulsd.Registrar
}

func NewServiceDiscovery(consulProtocol string, consulHost string, consulPort string, CA string, logger log.Logger) (discovery.Service, error) {
	consulConfig := api.DefaultConfig()
	consulConfig.Address = consulHost + ":" + consulPort
	consulConfig.Scheme = consulProtocol
	consulConfig.TLSConfig = api.TLSConfig{CAFile: CA}
	consulClient, err := api.NewClient(consulConfig)
	if err != nil {
		level.Error(logger).Log("err", err, "msg", "Could not start Consul API Client")
		return nil, err
	}
	return newFromClient(consulsd.NewClient(consulClient), logger), nil
}

func newFromClient(client consulsd.Client, logger log.Logger) *ServiceDiscovery {
	return &ServiceDiscovery{client: client, logger: logger}
}

func (sd *ServiceDiscovery) Register(advProtocol string, advHost string, advPort string) error {
	port, err := strconv.Atoi(advPort)
	if err != nil {
		return fmt.Errorf("invalid advertised port %q: %w", advPort, err)
	}
	sd.registrar = consulsd.NewRegistrar(sd.client, registration(advProtocol, advHost, port), sd.logger)
	sd.registrar.Register()
	return nil
}

func (sd *ServiceDiscovery) Deregister() error {
	if sd.registrar == nil {
		return ErrNotRegistered
	}
	sd.registrar.Deregister()
	return nil
}

// registration derives a stable instance ID from host and port so a restart
// replaces the previous entry instead of adding one.
func registration(advProtocol string, advHost string, port int) *api.AgentServiceRegistration {
	check := api.AgentServiceCheck{
		HTTP:          fmt.Sprintf("%s://%s:%d/health", advProtocol, advHost, port),
		Interval:      "10s",
		Timeout:       "1s",
		TLSSkipVerify: true,
		Notes:         "Basic health checks",
	}
	hostname, _ := os.Hostname()
	return &api.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", serviceName, advHost, port),
		Name:    serviceName,
		Address: advHost,
		Port:    port,
		Tags:    []string{"dcc", "revocation"},
		Meta:    map[string]string{"hostname": hostname},
		Check:   &check,
	}
}
