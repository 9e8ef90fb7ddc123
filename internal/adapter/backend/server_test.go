package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickchat/internal/domain"
	"quickchat/internal/infra/config"
	"quickchat/internal/infra/metrics"
)

type stubChat struct {
	userID, text string
	reply        string
	err          error
}

func (s *stubChat) Reply(_ context.Context, userID, text string) (string, error) {
	s.userID, s.text = userID, text
	return s.reply, s.err
}

type stubIssuer struct {
	url string
	err error
}

func (s *stubIssuer) EmbedURL(context.Context) (string, error) { return s.url, s.err }

func testServer(t *testing.T, chat ChatResponder, issuer URLIssuer) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	s := NewServer(Options{
		Backend: config.BackendConfig{
			CORSOrigins:    []string{"*"},
			RequestsPerMin: 600,
			BurstSize:      100,
		},
		SDKSrc:    config.DefaultSDKSrc,
		Container: "#experience-container",
	}, chat, issuer, m, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, m
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestChatEndpoint(t *testing.T) {
	chat := &stubChat{reply: "Hi there"}
	srv, _ := testServer(t, chat, &stubIssuer{})

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"user_id":"localUser1","message":"Hello"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var body chatResponse
	decode(t, resp, &body)
	assert.Equal(t, "Hi there", body.Reply)
	assert.Equal(t, "localUser1", chat.userID)
	assert.Equal(t, "Hello", chat.text)
}

func TestChatEndpointValidation(t *testing.T) {
	srv, _ := testServer(t, &stubChat{}, &stubIssuer{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid JSON"},
		{"blank message", `{"user_id":"u","message":"  "}`, "message is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body errorResponse
			decode(t, resp, &body)
			assert.Contains(t, body.Detail, tt.want)
		})
	}
}

func TestChatEndpointDefaultsUser(t *testing.T) {
	chat := &stubChat{reply: "ok"}
	srv, _ := testServer(t, chat, &stubIssuer{})

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "anonymous", chat.userID)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"provider", domain.NewSubSystemError("bedrock", "op", domain.ErrProviderError, "AWS Error (X): y"), http.StatusInternalServerError},
		{"denied", mapAWSError("quicksight", "op", accessDenied()), http.StatusForbidden},
		{"open", domain.NewSubSystemError("bedrock", "op", domain.ErrCircuitOpen, "bedrock unavailable"), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, &stubChat{err: tt.err}, &stubIssuer{err: tt.err})

			resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorResponse
			decode(t, resp, &body)
			assert.NotEmpty(t, body.Detail)

			resp, err = http.Get(srv.URL + "/get-embed-url/")
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestEmbedURLEndpoint(t *testing.T) {
	srv, _ := testServer(t, &stubChat{}, &stubIssuer{url: "https://qs.test/embed?code=abc"})

	resp, err := http.Get(srv.URL + "/get-embed-url/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	var body embedURLResponse
	decode(t, resp, &body)
	assert.Equal(t, "https://qs.test/embed?code=abc", body.EmbedURL)
}

func TestEmbedHostPage(t *testing.T) {
	srv, _ := testServer(t, &stubChat{}, &stubIssuer{})

	resp, err := http.Get(srv.URL + "/embed-host")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `<div id="experience-container"></div>`)
	assert.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "https://unpkg.com")
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := testServer(t, &stubChat{}, &stubIssuer{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointCountsRoutes(t *testing.T) {
	srv, _ := testServer(t, &stubChat{}, &stubIssuer{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quickchat_http_requests_total{code="200",route="/healthz"}`)
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://unpkg.com", originOf("https://unpkg.com/amazon-quicksight-embedding-sdk@2.0.0/dist/quicksight-embedding-js-sdk.min.js"))
	assert.Equal(t, "not a url", originOf("not a url"))
}
