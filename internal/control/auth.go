package control

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrUnauthenticated is returned when a call lacks a valid operator token.
var ErrUnauthenticated = errors.New("control: missing or invalid operator token")

const authorizationHeader = "authorization"

// HashToken returns the bcrypt hash to store in control.token_hash.
//
// Precondition: token must be non-empty.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("control: token must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyToken reports whether token matches hash.
func VerifyToken(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// AuthInterceptor rejects calls whose "authorization: Bearer <token>" metadata
// does not match tokenHash. An empty tokenHash admits every call.
func AuthInterceptor(tokenHash string, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if tokenHash == "" {
			return handler(ctx, req)
		}
		if !VerifyToken(tokenHash, bearer(ctx)) {
			logger.Warn("rejected control call", zap.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, ErrUnauthenticated.Error())
		}
		return handler(ctx, req)
	}
}

// WithToken attaches token to outgoing calls.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationHeader, "Bearer "+token)
}

func bearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(authorizationHeader) {
		if tok, found := strings.CutPrefix(v, "Bearer "); found {
			return strings.TrimSpace(tok)
		}
	}
	return ""
}
