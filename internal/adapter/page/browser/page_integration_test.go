//go:build integration

package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickchat/internal/domain"
)

func TestPageMountsShimSDK(t *testing.T) {
	shim, err := os.ReadFile("testdata/shim-sdk.js")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/sdk.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write(shim)
	})
	mux.HandleFunc("/host", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!DOCTYPE html><html><body><div id="experience-container"></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := New(Config{
		Headless:         true,
		HostPage:         srv.URL + "/host",
		Timeout:          30 * time.Second,
		SDKGlobal:        "QuickSightEmbedding",
		ExperienceMethod: "embedQuickChat",
	}, slog.Default())
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.InjectScript(ctx, srv.URL+"/sdk.js"))

	capability, err := p.Capability(ctx)
	require.NoError(t, err)
	ec, err := capability.CreateContext(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	var names []string
	record := func(e domain.EmbedEvent) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, e.Name)
	}
	exp, err := ec.Mount(ctx, domain.FrameOptions{
		URL: "https://x/y?token=abc", Container: "#experience-container",
		Height: "700px", Width: "100%", OnChange: record,
	}, domain.ContentOptions{OnMessage: record})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 3
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{domain.EventFrameMounted, domain.EventFrameLoaded, domain.EventContentLoaded}, names)

	require.NoError(t, exp.Unmount(ctx))
	require.NoError(t, p.RemoveScript(ctx, srv.URL+"/sdk.js"))

	_, err = p.Capability(ctx)
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
}

func TestPageInjectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p, err := New(Config{Headless: true, Timeout: 30 * time.Second, SDKGlobal: "QuickSightEmbedding"}, slog.Default())
	require.NoError(t, err)
	defer p.Close()

	assert.Error(t, p.InjectScript(context.Background(), srv.URL+"/missing.js"))
}
