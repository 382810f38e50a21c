package rpc

import (
	"context"
	"strings"

	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenValidator resolves a bearer token to permissions.
type TokenValidator interface {
	ValidateToken(token string) ([]auth.Permission, error)
}

// ServerOptions returns the interceptors that authorize every call of the
// register service against the "authorization" metadata.
func ServerOptions(tokens TokenValidator, logger *zap.Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			if err := authorize(ctx, tokens, info.FullMethod); err != nil {
				logger.Warn("gRPC call rejected", zap.String("method", info.FullMethod), zap.Error(err))
				return nil, err
			}
			return handler(ctx, req)
		}),
		grpc.StreamInterceptor(func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if err := authorize(ss.Context(), tokens, info.FullMethod); err != nil {
				logger.Warn("gRPC stream rejected", zap.String("method", info.FullMethod), zap.Error(err))
				return err
			}
			return handler(srv, ss)
		}),
	}
}

func authorize(ctx context.Context, tokens TokenValidator, method string) error {
	required, ok := methodPermissions[method]
	if !ok {
		// Not ours (health, reflection)
		return nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}

	parts := strings.SplitN(values[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return status.Error(codes.Unauthenticated, "invalid authorization metadata")
	}

	perms, err := tokens.ValidateToken(parts[1])
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	for _, p := range perms {
		if p == required {
			return nil
		}
	}
	return status.Errorf(codes.PermissionDenied, "missing permission %s", required)
}
