package discovery

// Service announces the HTTP endpoint of this process to a registry.
type Service interface {
	Register(advProtocol string, advHost string, advPort string) error
	Deregister() error
}
