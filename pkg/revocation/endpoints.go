package revocation

import (
	"context"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/tracing/opentracing"
	stdopentracing "github.com/opentracing/opentracing-go"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

type Endpoints struct {
	HealthEndpoint endpoint.Endpoint
	UpdateEndpoint endpoint.Endpoint
	StatusEndpoint endpoint.Endpoint
	ResetEndpoint  endpoint.Endpoint
}

func MakeServerEndpoints(s Service, otTracer stdopentracing.Tracer) Endpoints {
	var healthEndpoint endpoint.Endpoint
	{
		healthEndpoint = MakeHealthEndpoint(s)
		healthEndpoint = opentracing.TraceServer(otTracer, "Health")(healthEndpoint)
	}
	var updateEndpoint endpoint.Endpoint
	{
		updateEndpoint = MakeUpdateEndpoint(s)
		updateEndpoint = opentracing.TraceServer(otTracer, "UpdateCache")(updateEndpoint)
	}
	var statusEndpoint endpoint.Endpoint
	{
		statusEndpoint = MakeStatusEndpoint(s)
		statusEndpoint = opentracing.TraceServer(otTracer, "IsRevokedFromRevocationList")(statusEndpoint)
	}
	var resetEndpoint endpoint.Endpoint
	{
		resetEndpoint = MakeResetEndpoint(s)
		resetEndpoint = opentracing.TraceServer(otTracer, "ResetSnapshot")(resetEndpoint)
	}
	return Endpoints{
		HealthEndpoint: healthEndpoint,
		UpdateEndpoint: updateEndpoint,
		StatusEndpoint: statusEndpoint,
		ResetEndpoint:  resetEndpoint,
	}
}

func MakeHealthEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		healthy := s.Health(ctx)
		return healthResponse{Healthy: healthy}, nil
	}
}

func MakeUpdateEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(updateRequest)
		revoked, err := s.UpdateCache(ctx, req.Certificates)
		return updateResponse{Revoked: revoked, Err: err}, nil
	}
}

func MakeStatusEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(statusRequest)
		return statusResponse{Revoked: s.IsRevokedFromRevocationList(req.Certificate)}, nil
	}
}

func MakeResetEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		return resetResponse{Err: s.ResetSnapshot(ctx)}, nil
	}
}

type healthRequest struct{}

type healthResponse struct {
	Healthy bool `json:"healthy"`
}

type updateRequest struct {
	Certificates []certificate.HealthCertificate `json:"certificates"`
}

type updateResponse struct {
	Revoked []certificate.HealthCertificate `json:"revoked"`
	Err     error                           `json:"-"`
}

func (r updateResponse) error() error { return r.Err }

type statusRequest struct {
	Certificate certificate.HealthCertificate `json:"certificate"`
}

type statusResponse struct {
	Revoked bool `json:"revoked"`
}

type resetRequest struct{}

type resetResponse struct {
	Err error `json:"-"`
}

func (r resetResponse) error() error { return r.Err }
