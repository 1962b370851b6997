package auth

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// Interceptor applies a Handler to Connect RPC calls. Credentials are read
// from the request headers, the same way as for plain HTTP.
type Interceptor struct {
	handler Handler
	metrics *Metrics
	subject string
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithInterceptorSubject sets the subject recorded on the Identity of
// authorized calls.
func WithInterceptorSubject(subject string) InterceptorOption {
	return func(i *Interceptor) {
		i.subject = subject
	}
}

// NewInterceptor creates a server-side interceptor. metrics may be nil.
func NewInterceptor(h Handler, metrics *Metrics, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		handler: h,
		metrics: metrics,
		subject: "system:authenticated",
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// WrapUnary implements connect.Interceptor.
func (i *Interceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		if !i.authorize(req.Header()) {
			return nil, connect.NewError(connect.CodeUnauthenticated, ErrUnauthorized)
		}
		return next(i.withIdentity(ctx), req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *Interceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *Interceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !i.authorize(conn.RequestHeader()) {
			return connect.NewError(connect.CodeUnauthenticated, ErrUnauthorized)
		}
		return next(i.withIdentity(ctx), conn)
	}
}

func (i *Interceptor) authorize(h http.Header) bool {
	ok := i.handler.IsAuthorizedHeaders(h)
	i.metrics.Record(TransportRPC, ok)
	return ok
}

func (i *Interceptor) withIdentity(ctx context.Context) context.Context {
	return ContextWithIdentity(ctx, &Identity{
		Subject: i.subject,
		Method:  MethodOf(i.handler),
	})
}

// CredentialsInterceptor adds the shared token and password headers to all
// outgoing requests.
type CredentialsInterceptor struct {
	token    string
	password string
}

// NewCredentialsInterceptor creates a new client-side credentials interceptor.
// Empty values are not sent.
func NewCredentialsInterceptor(token, password string) *CredentialsInterceptor {
	return &CredentialsInterceptor{token: token, password: password}
}

// WrapUnary implements connect.Interceptor.
func (i *CredentialsInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		i.apply(req.Header())
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *CredentialsInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		i.apply(conn.RequestHeader())
		return conn
	}
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *CredentialsInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

func (i *CredentialsInterceptor) apply(h http.Header) {
	if i.token != "" {
		h.Set(HeaderToken, i.token)
	}
	if i.password != "" {
		h.Set(HeaderPassword, i.password)
	}
}
