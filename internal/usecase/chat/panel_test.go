package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickchat/internal/adapter/exchange"
	"quickchat/internal/domain"
	"quickchat/internal/usecase/view"
)

type memLog struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (l *memLog) AppendMessage(_ context.Context, m domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

func (l *memLog) snapshot() []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Message(nil), l.msgs...)
}

// gatedExchanger lets a test observe the log while the exchange is in flight.
type gatedExchanger struct {
	gate  chan struct{}
	reply string
	err   error
	calls int
}

func (g *gatedExchanger) SendChatMessage(ctx context.Context, _, _ string) (domain.ChatReply, error) {
	g.calls++
	if g.gate != nil {
		<-g.gate
	}
	return domain.ChatReply{Reply: g.reply}, g.err
}

func TestSendAppendsUserMessageBeforeReply(t *testing.T) {
	log := &memLog{}
	ex := &gatedExchanger{gate: make(chan struct{}), reply: "Hi there"}
	p := NewPanel(ex, log, "localUser1")

	done := make(chan bool, 1)
	go func() { done <- p.Send(context.Background(), "Hello") }()

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, time.Millisecond)
	first := log.snapshot()[0]
	assert.Equal(t, domain.SenderUser, first.Sender)
	assert.Equal(t, "Hello", first.Text)

	close(ex.gate)
	assert.True(t, <-done)

	msgs := log.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.Message{Sender: domain.SenderAgent, Text: "Hi there"}, stripTime(msgs[1]))
}

func TestSendIgnoresBlankInput(t *testing.T) {
	log := &memLog{}
	ex := &gatedExchanger{}
	p := NewPanel(ex, log, "u")

	for _, in := range []string{"", "   ", "\t\n"} {
		assert.False(t, p.Send(context.Background(), in))
	}
	assert.Empty(t, log.snapshot())
	assert.Zero(t, ex.calls)
}

func TestSendFailureAppendsNotice(t *testing.T) {
	log := &memLog{}
	ex := &gatedExchanger{err: domain.WithCause(domain.ErrNetwork, assert.AnError)}
	p := NewPanel(ex, log, "u", WithNotifier(func(error) string { return "offline" }))

	assert.False(t, p.Send(context.Background(), "Hello"))

	msgs := log.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.SenderAgent, msgs[1].Sender)
	assert.Equal(t, "offline", msgs[1].Text)
	assert.True(t, msgs[1].IsError)
}

// End to end over HTTP into the view controller's log.
func TestSendOverHTTP(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantReply string
		wantError bool
	}{
		{
			name: "reply",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"reply":"Hi there"}`))
			},
			wantReply: "Hi there",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"detail":"boom"}`))
			},
			wantReply: domain.UserNotice(domain.ErrRemote),
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			ctrl := view.NewController(nil, "#c", nil, nil)
			p := NewPanel(exchange.New(srv.URL, time.Second), ctrl, "localUser1")

			assert.Equal(t, !tt.wantError, p.Send(context.Background(), "Hello"))

			msgs := ctrl.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, domain.Message{Sender: domain.SenderUser, Text: "Hello"}, stripTime(msgs[0]))
			assert.Equal(t, domain.SenderAgent, msgs[1].Sender)
			assert.Equal(t, tt.wantReply, msgs[1].Text)
			assert.Equal(t, tt.wantError, msgs[1].IsError)
		})
	}
}

func stripTime(m domain.Message) domain.Message {
	m.Timestamp = time.Time{}
	return m
}
