package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows
// read-only operations. Used on the Unix socket listener so a local
// CLI session can inspect cluster state without also being able to
// schedule, kill, or group instances through it.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on the local socket - use the TCP listener instead",
			)
		}
		return handler(ctx, req)
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only.
func isReadOnlyMethod(method string) bool {
	// Extract method name from full path (e.g. "/nimbus.NimbusAPI/QueryResources" -> "QueryResources")
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	readOnlyPrefixes := []string{
		"Query",
		"List",
		"Get",
	}
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(methodName, prefix) {
			return true
		}
	}
	return false
}
