package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healspace/support-assistant/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetOwnerID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantOwner  string
	}{
		{
			name:       "valid token",
			header:     "Bearer " + signToken(t, testSecret, "owner-1", future),
			wantStatus: http.StatusOK,
			wantOwner:  "owner-1",
		},
		{
			name:       "lowercase scheme",
			header:     "bearer " + signToken(t, testSecret, "owner-1", future),
			wantStatus: http.StatusOK,
			wantOwner:  "owner-1",
		},
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			header:     "Bearer " + signToken(t, "other", "owner-1", future),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			header:     "Bearer " + signToken(t, testSecret, "owner-1", time.Now().Add(-time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "subject with subject separator",
			header:     "Bearer " + signToken(t, testSecret, "owner.1", future),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty subject",
			header:     "Bearer " + signToken(t, testSecret, "", future),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			Auth(testSecret)(ownerEcho()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantOwner, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.NoError(t, ValidateMessageContent(strings.Repeat("a", MaxMessageBytes)))

	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent("   \n"))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", MaxMessageBytes+1)))
	assert.Error(t, ValidateMessageContent("bad \xff byte"))
}

func TestOwnerRateLimit(t *testing.T) {
	handler := OwnerRateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(owner string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithOwnerID(req.Context(), owner))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("owner-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("owner-1"))
	assert.Equal(t, http.StatusNoContent, send("owner-2"))
}

func TestLogging_CorrelationID(t *testing.T) {
	var seen string
	handler := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", seen)
	assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
}
