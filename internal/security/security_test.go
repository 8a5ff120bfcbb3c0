package security_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/crypto-news-radar/internal/security"
)

func echoBody() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
}

func TestSignKnownVector(t *testing.T) {
	// widely published HMAC-SHA256 example
	require.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		security.Sign([]byte("The quick brown fox jumps over the lazy dog"), "key"),
	)
}

func TestRequireSignature(t *testing.T) {
	h := security.RequireSignature("s3cret")(echoBody())
	body := `{"sources":["coindesk"]}`

	tests := []struct {
		name       string
		signature  string
		wantStatus int
	}{
		{name: "valid", signature: security.Sign([]byte(body), "s3cret"), wantStatus: http.StatusOK},
		{name: "missing", signature: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", signature: security.Sign([]byte(body), "other"), wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/news/fetch", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(security.SignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.Equal(t, body, rec.Body.String())
			} else {
				require.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestVerifyErrors(t *testing.T) {
	require.ErrorIs(t, security.Verify([]byte("x"), "", "k"), security.ErrMissingSignature)
	require.ErrorIs(t, security.Verify([]byte("x"), "deadbeef", "k"), security.ErrInvalidSignature)
	require.NoError(t, security.Verify([]byte("x"), security.Sign([]byte("x"), "k"), "k"))
}

func TestCORS(t *testing.T) {
	h := security.CORS([]string{"https://radar.example"})(echoBody())

	t.Run("allowed origin is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://radar.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://radar.example", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "GET,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("foreign origin is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origin passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "Content-Type, X-Signature, X-Request-ID", rec.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/news/fetch", nil)
		req.Header.Set("Origin", "https://radar.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Empty(t, rec.Body.String())
	})
}
