package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

// TransactionIDKey holds the token subject once a call has been authenticated.
const TransactionIDKey contextKey = "transaction_id"

// ErrNoSecret is returned when a signer or validator is built without a key.
var ErrNoSecret = errors.New("auth: empty secret")

// Signer mints short-lived HS256 tokens for delivery calls. The subject is the
// host transaction id, so the remote side can tie a token to one message.
type Signer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSigner creates a token signer.
func NewSigner(secret, issuer, audience string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Signer{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Token returns a signed token for subject.
func (s *Signer) Token(subject string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Outgoing attaches a bearer token for subject to the outgoing gRPC metadata.
func (s *Signer) Outgoing(ctx context.Context, subject string) (context.Context, error) {
	tok, err := s.Token(subject)
	if err != nil {
		return ctx, fmt.Errorf("sign call token: %w", err)
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok), nil
}

// Validator checks tokens minted by a Signer with the same secret.
type Validator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewValidator creates a token validator.
func NewValidator(secret, issuer, audience string) (*Validator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Validator{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

// ValidateToken validates a token and returns its subject
func (v *Validator) ValidateToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("missing sub claim")
	}
	return claims.Subject, nil
}

// GRPCInterceptor returns a gRPC unary interceptor that validates bearer tokens
func (v *Validator) GRPCInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		// Skip auth for health checks
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
		}

		tokenString := strings.TrimPrefix(authHeaders[0], "Bearer ")
		if tokenString == authHeaders[0] {
			return nil, status.Errorf(codes.Unauthenticated, "invalid authorization header format")
		}

		subject, err := v.ValidateToken(tokenString)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
		}

		ctx = context.WithValue(ctx, TransactionIDKey, subject)
		return handler(ctx, req)
	}
}

// TransactionIDFromContext returns the authenticated token subject
func TransactionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(TransactionIDKey).(string)
	return id, ok
}
