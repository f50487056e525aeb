package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/tracing/opentracing"
	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	stdopentracing "github.com/opentracing/opentracing-go"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

const maxRequestBody = 4 << 20

var (
	ErrBadRequest     = errors.New("malformed request body")
	ErrNoCertificates = errors.New("certificates field is required")
)

type errorer interface {
	error() error
}

func MakeHTTPHandler(s Service, logger log.Logger, otTracer stdopentracing.Tracer) http.Handler {
	r := mux.NewRouter()
	e := MakeServerEndpoints(s, otTracer)

	options := []httptransport.ServerOption{
		httptransport.ServerErrorHandler(transport.NewLogErrorHandler(logger)),
		httptransport.ServerErrorEncoder(encodeError),
	}

	r.Methods("GET").Path("/health").Handler(httptransport.NewServer(
		e.HealthEndpoint,
		decodeHealthRequest,
		encodeResponse,
		append(options, httptransport.ServerBefore(opentracing.HTTPToContext(otTracer, "Health", logger)))...,
	))

	r.Methods("POST").Path("/v1/revocation/update").Handler(httptransport.NewServer(
		e.UpdateEndpoint,
		decodeUpdateRequest,
		encodeResponse,
		append(options, httptransport.ServerBefore(opentracing.HTTPToContext(otTracer, "UpdateCache", logger)))...,
	))

	r.Methods("POST").Path("/v1/revocation/status").Handler(httptransport.NewServer(
		e.StatusEndpoint,
		decodeStatusRequest,
		encodeResponse,
		append(options, httptransport.ServerBefore(opentracing.HTTPToContext(otTracer, "IsRevokedFromRevocationList", logger)))...,
	))

	r.Methods("DELETE").Path("/v1/revocation/snapshot").Handler(httptransport.NewServer(
		e.ResetEndpoint,
		decodeResetRequest,
		encodeResponse,
		append(options, httptransport.ServerBefore(opentracing.HTTPToContext(otTracer, "ResetSnapshot", logger)))...,
	))

	return r
}

func decodeHealthRequest(ctx context.Context, r *http.Request) (request interface{}, err error) {
	var req healthRequest
	return req, nil
}

func decodeResetRequest(ctx context.Context, r *http.Request) (request interface{}, err error) {
	var req resetRequest
	return req, nil
}

func decodeUpdateRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	defer r.Body.Close()
	var req struct {
		Certificates *[]certificate.HealthCertificate `json:"certificates"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody)).Decode(&req); err != nil {
		return nil, ErrBadRequest
	}
	if req.Certificates == nil {
		return nil, ErrNoCertificates
	}
	return updateRequest{Certificates: *req.Certificates}, nil
}

func decodeStatusRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	defer r.Body.Close()
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody)).Decode(&req); err != nil {
		return nil, ErrBadRequest
	}
	return req, nil
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if e, ok := response.(errorer); ok && e.error() != nil {
		encodeError(ctx, e.error(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		panic("encodeError with nil error")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(codeFrom(err))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
	})
}

func codeFrom(err error) int {
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoCertificates):
		return http.StatusBadRequest
	case errors.As(err, &perr) && perr.Kind != KindPersistence:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
