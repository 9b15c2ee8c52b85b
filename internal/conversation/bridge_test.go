// ABOUTME: Tests for the conversation Bridge and the HTTP agent client
// ABOUTME: Uses httptest servers for the agent endpoint and a memory transcript store

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-room/internal/store"
)

// agentServer answers the agent endpoint with handler and counts requests.
func agentServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int) {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func respondWith(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": text})
	}
}

// stubAgent is an AgentClient with a scripted reply.
type stubAgent struct {
	reply string
	err   error
	seen  []string
	check func()
}

func (s *stubAgent) Ask(ctx context.Context, message string) (string, error) {
	s.seen = append(s.seen, message)
	if s.check != nil {
		s.check()
	}
	return s.reply, s.err
}

func TestBridge_SummarizeMeetingScenario(t *testing.T) {
	var got agentRequest
	srv, calls := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DefaultAgentPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respondWith("Key points: revenue +25%, Q2 launch.")(w, r)
	})

	b := NewBridge(NewHTTPAgentClient(srv.URL+DefaultAgentPath, nil), BridgeOptions{})
	b.SendMessage(t.Context(), "Summarize meeting")

	assert.Equal(t, 1, *calls)
	assert.Equal(t, "Summarize meeting", got.Message)

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, store.SenderUser, msgs[0].Sender)
	assert.Equal(t, "Summarize meeting", msgs[0].Text)
	assert.Equal(t, store.SenderAgent, msgs[1].Sender)
	assert.Equal(t, "Key points: revenue +25%, Q2 launch.", msgs[1].Text)
	assert.False(t, msgs[1].Timestamp.Before(msgs[0].Timestamp))
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	assert.False(t, b.Typing())
}

func TestBridge_ServerErrorBecomesAgentMessage(t *testing.T) {
	srv, calls := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Agent initialization failed."})
	})

	b := NewBridge(NewHTTPAgentClient(srv.URL+DefaultAgentPath, nil), BridgeOptions{})
	b.SendMessage(t.Context(), "hello")

	assert.Equal(t, 1, *calls, "no retries")
	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, store.SenderAgent, msgs[1].Sender)
	assert.Equal(t, "Error: Unable to communicate with AI agent. server error: 500", msgs[1].Text)
	assert.False(t, b.Typing())
}

func TestBridge_NetworkErrorBecomesAgentMessage(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + DefaultAgentPath
	srv.Close()

	b := NewBridge(NewHTTPAgentClient(url, nil), BridgeOptions{})
	b.SendMessage(t.Context(), "hello")

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1].Text, AgentErrorPrefix), msgs[1].Text)
	assert.False(t, b.Typing())
}

func TestBridge_TimeoutBecomesAgentMessage(t *testing.T) {
	srv, _ := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	b := NewBridge(NewHTTPAgentClient(srv.URL, nil), BridgeOptions{})
	b.SendMessage(ctx, "slow question")

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1].Text, AgentErrorPrefix))
	assert.False(t, b.Typing())
}

func TestBridge_EmptyResponse(t *testing.T) {
	srv, _ := agentServer(t, respondWith(""))

	b := NewBridge(NewHTTPAgentClient(srv.URL, nil), BridgeOptions{})
	b.SendMessage(t.Context(), "anyone there?")

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, NoResponseText, msgs[1].Text)
}

func TestBridge_BlankInputIgnored(t *testing.T) {
	agent := &stubAgent{reply: "x"}
	b := NewBridge(agent, BridgeOptions{})

	b.SendMessage(t.Context(), "")
	b.SendMessage(t.Context(), "  \n\t ")

	assert.Empty(t, b.Messages())
	assert.Empty(t, agent.seen)
}

func TestBridge_TypingDuringRequest(t *testing.T) {
	agent := &stubAgent{reply: "ok"}
	b := NewBridge(agent, BridgeOptions{})

	var typingDuringRequest bool
	var logDuringRequest int
	agent.check = func() {
		typingDuringRequest = b.Typing()
		logDuringRequest = len(b.Messages())
	}

	var flips []bool
	b.OnTyping(func(on bool) { flips = append(flips, on) })

	b.SendMessage(t.Context(), "hi")

	assert.True(t, typingDuringRequest)
	assert.Equal(t, 1, logDuringRequest, "user message is appended before the request")
	assert.Equal(t, []bool{true, false}, flips)
	assert.False(t, b.Typing())
}

func TestBridge_TimestampsNeverGoBackwards(t *testing.T) {
	agent := &stubAgent{reply: "ok"}
	b := NewBridge(agent, BridgeOptions{})

	// A clock that steps backwards between the two appends.
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Minute)}
	b.now = func() time.Time {
		ts := times[0]
		times = times[1:]
		return ts
	}

	b.SendMessage(t.Context(), "hi")

	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Timestamp.Equal(msgs[0].Timestamp))
}

func TestBridge_SerializedCallsKeepPairs(t *testing.T) {
	agent := &stubAgent{reply: "reply"}
	b := NewBridge(agent, BridgeOptions{})

	for _, text := range []string{"one", "two", "three"} {
		b.SendMessage(t.Context(), text)
	}

	msgs := b.Messages()
	require.Len(t, msgs, 6)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, store.SenderUser, msgs[i].Sender)
		assert.Equal(t, store.SenderAgent, msgs[i+1].Sender)
	}
	assert.Equal(t, []string{"one", "two", "three"}, agent.seen)
}

func TestBridge_MirrorsToTranscriptAndFeed(t *testing.T) {
	transcript := store.NewMemoryStore()
	feed := NewMessageFeed(DefaultFeedBacklog, nil)
	defer feed.Close()

	key := store.ConversationKey("corelance-main-room", "user-7f3k2")
	sub := feed.Subscribe(t.Context(), FeedFilter{ConversationKey: key})

	var observed []store.Message
	b := NewBridge(&stubAgent{reply: "ok"}, BridgeOptions{
		ConversationKey: key,
		Transcript:      transcript,
		Feed:            feed,
	})
	listener := b.OnMessage(func(m store.Message) { observed = append(observed, m) })
	defer listener.Release()

	b.SendMessage(t.Context(), "hi")

	stored, err := transcript.ListMessages(t.Context(), key, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "hi", stored[0].Text)
	assert.Equal(t, "ok", stored[1].Text)

	require.Len(t, observed, 2)
	assert.Equal(t, key, observed[0].ConversationKey)

	for _, want := range []string{"hi", "ok"} {
		select {
		case m := <-sub.C:
			assert.Equal(t, want, m.Text)
		case <-time.After(time.Second):
			t.Fatal("feed did not deliver")
		}
	}
}

func TestBridge_TranscriptFailureIsNotSurfaced(t *testing.T) {
	transcript := store.NewMemoryStore()
	transcript.AppendErr = errors.New("disk full")

	b := NewBridge(&stubAgent{reply: "ok"}, BridgeOptions{Transcript: transcript})
	b.SendMessage(t.Context(), "hi")

	assert.Len(t, b.Messages(), 2)
}

func TestHTTPAgentClient_Errors(t *testing.T) {
	srv, _ := agentServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad-json":
			_, _ = w.Write([]byte("not json"))
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	})

	_, err := NewHTTPAgentClient(srv.URL+"/status", nil).Ask(t.Context(), "x")
	var reqErr *AgentRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadGateway, reqErr.StatusCode)
	assert.Contains(t, reqErr.Body, "nope")

	_, err = NewHTTPAgentClient(srv.URL+"/bad-json", nil).Ask(t.Context(), "x")
	require.ErrorAs(t, err, &reqErr)
	assert.Zero(t, reqErr.StatusCode)
	assert.Contains(t, err.Error(), "parsing response")
}
