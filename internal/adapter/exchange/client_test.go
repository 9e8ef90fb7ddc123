package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickchat/internal/domain"
)

func TestSendChatMessage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "localUser1", body["user_id"])
		assert.Equal(t, "Hello", body["message"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply":"Hi there"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", 5*time.Second)
	reply, err := c.SendChatMessage(context.Background(), "localUser1", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply.Reply)
}

func TestSendChatMessage_EmptyReplyIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":""}`))
	}))
	defer srv.Close()

	reply, err := New(srv.URL, time.Second).SendChatMessage(context.Background(), "u", "x")
	require.NoError(t, err)
	assert.Equal(t, "", reply.Reply)
}

func TestSendChatMessage_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		wantNot []error
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`, domain.ErrRemote, []error{domain.ErrProtocol, domain.ErrNetwork}},
		{"not found", http.StatusNotFound, ``, domain.ErrRemote, nil},
		{"malformed json", http.StatusOK, `{"reply":`, domain.ErrProtocol, []error{domain.ErrRemote}},
		{"missing reply", http.StatusOK, `{"answer":"x"}`, domain.ErrProtocol, nil},
		{"wrong type", http.StatusOK, `{"reply":42}`, domain.ErrProtocol, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second).SendChatMessage(context.Background(), "u", "x")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			for _, not := range tt.wantNot {
				assert.NotErrorIs(t, err, not)
			}
		})
	}
}

func TestRemoteErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).FetchEmbedURL(context.Background())
	var rse *domain.RemoteStatusError
	require.True(t, errors.As(err, &rse))
	assert.Equal(t, http.StatusBadGateway, rse.StatusCode)
	assert.Equal(t, "upstream down", rse.Body)
	assert.Equal(t, domain.CodeRemote, domain.ErrorCodeOf(err))
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).SendChatMessage(context.Background(), "u", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, domain.CodeNetwork, domain.ErrorCodeOf(err))
}

func TestContextCancelIsNetworkError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL, 0).FetchEmbedURL(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchEmbedURL_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/get-embed-url/", r.URL.Path)
		w.Write([]byte(`{"embedUrl":"https://x/y?token=abc"}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, time.Second).FetchEmbedURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://x/y?token=abc", got.EmbedURL)
}

func TestFetchEmbedURL_EmptyOrMissing(t *testing.T) {
	for _, body := range []string{`{}`, `{"embedUrl":""}`, `{"embedUrl":"   "}`, `{"embedUrl":null}`} {
		t.Run(body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second).FetchEmbedURL(context.Background())
			assert.ErrorIs(t, err, domain.ErrProtocol)
		})
	}
}

func TestFetchEmbedURL_NoCaching(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"embedUrl":"https://x/y?token=abc"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	for i := 0; i < 3; i++ {
		_, err := c.FetchEmbedURL(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).SendChatMessage(context.Background(), "u", "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
