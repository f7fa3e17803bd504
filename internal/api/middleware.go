/**
 * @description
 * This file contains custom middleware for the HTTP router. The authentication
 * middleware validates HMAC-signed bearer tokens and places the caller into the request
 * context, where ContextIdentity exposes it to the application service.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Token parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/domain"
)

// UserContextKey is a custom type for the context key to avoid collisions.
type UserContextKey string

const authenticatedUserKey UserContextKey = "authenticatedUser"

// Claims are the token claims the service reads. The subject is the user id.
type Claims struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware creates a middleware that validates HS256 bearer tokens signed with
// secret. When issuer is non-empty the iss claim must match it.
func AuthMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(options...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Authorization header required", Code: "unauthenticated"})
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid Authorization header format", Code: "unauthenticated"})
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid token", Code: "unauthenticated"})
				return
			}

			userID := strings.TrimSpace(claims.Subject)
			if userID == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "User ID not found in token", Code: "unauthenticated"})
				return
			}

			user := &domain.User{ID: userID, Email: strings.TrimSpace(claims.Email)}
			if phone := strings.TrimSpace(claims.PhoneNumber); phone != "" {
				user.Phone = &phone
			}

			ctx := WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUser stores the authenticated caller in ctx.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, authenticatedUserKey, user)
}

// UserFromContext retrieves the authenticated caller from the request context.
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(authenticatedUserKey).(*domain.User)
	return user, ok && user != nil
}

// ContextIdentity reads the caller placed into the context by AuthMiddleware.
type ContextIdentity struct{}

// CurrentUser implements app.IdentityProvider.
func (ContextIdentity) CurrentUser(ctx context.Context) (*domain.User, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, app.ErrUnauthenticated
	}
	return user, nil
}
