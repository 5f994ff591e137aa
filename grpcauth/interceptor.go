// Package grpcauth guards gRPC services with passport bearer tokens read
// from the "authorization" metadata key.
package grpcauth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/goliatone/go-passport"
)

// MetadataKey is the incoming metadata key holding "Bearer <token>".
const MetadataKey = "authorization"

// Config configures the interceptors.
type Config struct {
	// PublicMethods are full method names ("/pkg.Service/Method") that
	// skip authentication.
	PublicMethods []string
	// Optional lets requests without a token through. A token that is
	// present must still be valid.
	Optional bool
	Logger   passport.Logger
}

type guard struct {
	tokens   passport.TokenValidator
	public   map[string]bool
	optional bool
	logger   passport.Logger
}

func newGuard(tokens passport.TokenValidator, config []Config) *guard {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Logger == nil {
		cfg.Logger = passport.DefaultLogger()
	}

	public := make(map[string]bool, len(cfg.PublicMethods))
	for _, method := range cfg.PublicMethods {
		public[method] = true
	}
	return &guard{
		tokens:   tokens,
		public:   public,
		optional: cfg.Optional,
		logger:   cfg.Logger,
	}
}

// UnaryServerInterceptor validates the bearer token of unary calls and
// stores the claims in the handler context.
func UnaryServerInterceptor(tokens passport.TokenValidator, config ...Config) grpc.UnaryServerInterceptor {
	g := newGuard(tokens, config)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := g.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor.
func StreamServerInterceptor(tokens passport.TokenValidator, config ...Config) grpc.StreamServerInterceptor {
	g := newGuard(tokens, config)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

func (g *guard) authenticate(ctx context.Context, method string) (context.Context, error) {
	if g.public[method] {
		return ctx, nil
	}

	raw := bearerToken(ctx)
	if raw == "" {
		if g.optional {
			return ctx, nil
		}
		return ctx, status.Error(codes.Unauthenticated, "authentication required")
	}

	claims, err := g.tokens.Validate(raw)
	if err != nil {
		g.logger.Debug("rejected grpc token", "method", method, "error", err)
		return ctx, status.Error(codes.Unauthenticated, "invalid token")
	}
	return passport.WithClaimsContext(ctx, claims), nil
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(MetadataKey) {
		scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
		if found && strings.EqualFold(scheme, "bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// ClaimsFromContext returns the claims stored by the interceptors.
func ClaimsFromContext(ctx context.Context) (*passport.UserClaims, bool) {
	return passport.ClaimsFromContext(ctx)
}

// UserFromContext returns the user snapshot carried by the token.
func UserFromContext(ctx context.Context) (*passport.User, bool) {
	return passport.FromContext(ctx)
}

// WithBearer adds the token to outgoing client metadata.
func WithBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKey, "Bearer "+token)
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
