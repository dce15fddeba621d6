package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/eventstore"
	"github.com/loqalabs/loqa-relay/internal/forwarder"
	"github.com/loqalabs/loqa-relay/internal/queue"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBuildPublisher(t *testing.T) {
	cfg := config.Default()

	cfg.Relay.Transport = config.TransportRedis
	pub, closePub, err := buildPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("redis publisher: %v", err)
	}
	if _, ok := pub.(*queue.RedisList); !ok {
		t.Fatalf("expected redis list, got %T", pub)
	}
	_ = closePub()

	cfg.Relay.Transport = config.TransportKafka
	pub, closePub, err = buildPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("kafka publisher: %v", err)
	}
	if _, ok := pub.(*queue.KafkaTopic); !ok {
		t.Fatalf("expected kafka topic, got %T", pub)
	}
	_ = closePub()

	cfg.Relay.Transport = "pipe"
	if _, _, err := buildPublisher(cfg, nil); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestLoopForwarderRecordsSpeech(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.SpeakerName = "Alice"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "speech.db")

	fwd, stop, err := buildForwarder(context.Background(), cfg, nil, newLogger())
	if err != nil {
		t.Fatalf("build forwarder: %v", err)
	}
	<-fwd.Handle("Hello world", true, false)
	<-fwd.Handle("Thank you.", true, true)
	<-fwd.Handle("interim", false, false)
	<-fwd.Handle("Bye", false, true)
	stop()

	store, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessions, err := store.ListSessions(context.Background())
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one session, got %v (%v)", sessions, err)
	}
	msgs, err := store.ListSessionMessages(context.Background(), sessions[0], 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 recorded messages, got %+v", msgs)
	}
	if msgs[0].Speaker != "Alice" || msgs[0].Text != "Hello world" || msgs[1].Text != "Bye" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestLoopForwarderRecordsSpeakerWithSeparator(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.SpeakerName = "Room 1: Alice"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "speech.db")

	fwd, stop, err := buildForwarder(context.Background(), cfg, nil, newLogger())
	if err != nil {
		t.Fatalf("build forwarder: %v", err)
	}
	<-fwd.Handle("Hello: world", true, false)
	stop()

	store, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessions, err := store.ListSessions(context.Background())
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one session, got %v (%v)", sessions, err)
	}
	msgs, err := store.ListSessionMessages(context.Background(), sessions[0], 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Speaker != "Room 1: Alice" || msgs[0].Text != "Hello: world" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestDrainerFlushesOnStop(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "speech.db"), RetentionMode: "session"}
	store, err := eventstore.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.AppendSession(context.Background(), "s1", "Bob"); err != nil {
		t.Fatalf("append session: %v", err)
	}

	q := forwarder.NewQueue(4)
	_ = q.Put(context.Background(), "Bob: one", 0)
	_ = q.Put(context.Background(), "Bob: two", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newDrainer(q, store, "s1", "Bob", newLogger()).run(ctx)

	msgs, err := store.ListSessionMessages(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "one" || msgs[1].Text != "two" {
		t.Fatalf("expected queued messages flushed in order, got %+v", msgs)
	}
}

func TestReadyz(t *testing.T) {
	r := New(config.Default(), newLogger())

	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}

	healthy := true
	r.healthy = append(r.healthy, func() bool { return healthy })
	r.ready.Store(true)
	rec = httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when a component is unhealthy, got %d", rec.Code)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Bus.Port = freePort(t)
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "speech.db")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- New(cfg, newLogger()).Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	url := "http://127.0.0.1:" + itoa(cfg.HTTP.Port) + "/readyz"
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("relay never became ready")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("relay did not stop")
	}
}
