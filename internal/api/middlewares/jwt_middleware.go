package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey struct{}

// AllChatbots in the chatbots claim grants access to every chatbot.
const AllChatbots = "*"

// Scopes is the chatbots claim. Tokens may carry a list of ids or a single
// string.
type Scopes []string

func (s *Scopes) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = Scopes{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Claims is what a tenant token carries.
type Claims struct {
	Chatbots Scopes `json:"chatbots"`
	jwt.RegisteredClaims
}

// Allows reports whether the token may act on chatbotID.
func (c *Claims) Allows(chatbotID string) bool {
	return chatbotID != "" && (slices.Contains(c.Chatbots, AllChatbots) || slices.Contains(c.Chatbots, chatbotID))
}

// ClaimsFromContext returns the claims JWTMiddleware attached to ctx.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// JWTMiddleware validates the HS256 bearer token and attaches its claims to
// the request context.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(auth, "Bearer ")
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if len(claims.Chatbots) == 0 {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ChatbotScope rejects requests whose {chatbotID} route parameter is not in
// the token's chatbots claim. It must run after JWTMiddleware.
func ChatbotScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !claims.Allows(chi.URLParam(r, "chatbotID")) {
			http.Error(w, "chatbot not in token scope", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SignToken issues an HS256 token for the given chatbots. Used by tooling and
// tests.
func SignToken(secret string, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
