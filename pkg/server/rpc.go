package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// StatusProcedure is the Connect procedure that reports server status.
const StatusProcedure = "/panelgate.v1.PanelService/Status"

// StatusRequest is the request message of StatusProcedure.
type StatusRequest struct{}

// JSONCodec encodes Connect messages as plain JSON. It replaces the default
// protobuf JSON codec so that messages need not be generated types.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements connect.Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewStatusHandler returns the mount path and handler for StatusProcedure.
func NewStatusHandler(s *Server, interceptors ...connect.Interceptor) (string, http.Handler) {
	handler := connect.NewUnaryHandler(
		StatusProcedure,
		func(ctx context.Context, req *connect.Request[StatusRequest]) (*connect.Response[Status], error) {
			st := s.status(ctx)
			return connect.NewResponse(&st), nil
		},
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(interceptors...),
	)
	return StatusProcedure, handler
}

// NewStatusClient returns a client for StatusProcedure on the server at
// baseURL.
func NewStatusClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *connect.Client[StatusRequest, Status] {
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return connect.NewClient[StatusRequest, Status](
		httpClient,
		strings.TrimRight(baseURL, "/")+StatusProcedure,
		opts...,
	)
}
