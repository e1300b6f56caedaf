package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// The net/http package keeps idle connections in a shared pool.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// collectOne reads one inbound message or fails the test after a timeout.
func collectOne(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("inbound channel closed before a message arrived")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
	return nil
}

func TestSendDeliversJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	inbound, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg := collectOne(t, inbound)
	if !strings.Contains(string(msg), `"id":1`) {
		t.Errorf("unexpected inbound message: %s", msg)
	}
}

func TestSendAttachesBearerAndSessionID(t *testing.T) {
	var gotAuth atomic.Value
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotAuth.Store(r.Header.Get("Authorization"))
		calls++
		if calls == 1 {
			w.Header().Set("Mcp-Session-Id", "sess-123")
		} else if sid := r.Header.Get("Mcp-Session-Id"); sid != "sess-123" {
			t.Errorf("second request Mcp-Session-Id = %q, want sess-123", sid)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, WithAuthToken("secret-token"))
	if _, err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	for i := 0; i < 2; i++ {
		if err := tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	if auth := gotAuth.Load(); auth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want Bearer secret-token", auth)
	}
}

func TestEventStreamDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":9,\"result\":{}}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	inbound, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	msg := collectOne(t, inbound)
	if !strings.Contains(string(msg), `"id":9`) {
		t.Errorf("unexpected event payload: %s", msg)
	}
}

func TestEventStreamOutlivesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		// Emit the event well past the per-request timeout below.
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":11,\"result\":{\"late\":true}}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, WithRequestTimeout(100*time.Millisecond))
	inbound, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	msg := collectOne(t, inbound)
	if !strings.Contains(string(msg), `"late":true`) {
		t.Errorf("unexpected event payload: %s", msg)
	}
}

func TestSSEResponseToPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":3,\"result\":{\"streamed\":true}}\n\n")
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	inbound, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg := collectOne(t, inbound)
	if !strings.Contains(string(msg), `"streamed":true`) {
		t.Errorf("unexpected streamed payload: %s", msg)
	}
}

func TestSendHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	if _, err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	err := tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want mention of status 502", err)
	}
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	tr := NewHTTPTransport(srv.URL)
	if _, err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)); err == nil {
		t.Fatal("expected error for refused connection")
	}
}

func TestCloseIsIdempotentAndClosesInbound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	inbound, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	select {
	case _, ok := <-inbound:
		if ok {
			t.Error("expected closed inbound channel, got message")
		}
	case <-time.After(time.Second):
		t.Error("inbound channel not closed after Close")
	}

	if _, err := tr.Start(context.Background()); err == nil {
		t.Error("Start after Close should fail")
	}
}
