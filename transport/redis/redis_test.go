package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/eventbus"
	"github.com/rbaliyan/eventbus/transport"
	"github.com/redis/go-redis/v9"
)

// mockRedisClient implements Client for testing
type mockRedisClient struct {
	mu        sync.Mutex
	streams   map[string][]redis.XMessage
	published []publishedMessage
	msgID     int
	lastXAdd  *redis.XAddArgs
	lastXRead *redis.XReadArgs
	xaddErr   error
	pingErr   error
}

type publishedMessage struct {
	channel string
	payload any
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{streams: make(map[string][]redis.XMessage)}
}

func (m *mockRedisClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := redis.NewStringCmd(ctx)
	m.lastXAdd = a
	if m.xaddErr != nil {
		cmd.SetErr(m.xaddErr)
		return cmd
	}

	m.msgID++
	msgID := fmt.Sprintf("%d-0", m.msgID)

	values := make(map[string]any)
	if v, ok := a.Values.(map[string]any); ok {
		for k, val := range v {
			// Redis returns every field as a string.
			switch x := val.(type) {
			case []byte:
				values[k] = string(x)
			default:
				values[k] = fmt.Sprint(x)
			}
		}
	}
	m.streams[a.Stream] = append(m.streams[a.Stream], redis.XMessage{ID: msgID, Values: values})
	cmd.SetVal(msgID)
	return cmd
}

func idSeq(id string) int {
	head, _, _ := strings.Cut(id, "-")
	n, _ := strconv.Atoi(head)
	return n
}

func (m *mockRedisClient) XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastXRead = a
	cmd := redis.NewXStreamSliceCmd(ctx)
	stream, after := a.Streams[0], idSeq(a.Streams[1])

	var msgs []redis.XMessage
	for _, msg := range m.streams[stream] {
		if idSeq(msg.ID) > after {
			msgs = append(msgs, msg)
		}
		if a.Count > 0 && int64(len(msgs)) == a.Count {
			break
		}
	}
	if len(msgs) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal([]redis.XStream{{Stream: stream, Messages: msgs}})
	return cmd
}

func (m *mockRedisClient) XLen(ctx context.Context, stream string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(m.streams[stream])))
	return cmd
}

func (m *mockRedisClient) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{channel: channel, payload: message})
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (m *mockRedisClient) PSubscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return nil
}

func (m *mockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.pingErr != nil {
		cmd.SetErr(m.pingErr)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func (m *mockRedisClient) Close() error { return nil }

// fakeReceiver feeds pub/sub messages to a stream.
type fakeReceiver struct {
	msgs         chan any
	closed       chan struct{}
	once         sync.Once
	subscribeErr error
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{msgs: make(chan any, 16), closed: make(chan struct{})}
}

func (f *fakeReceiver) Receive(ctx context.Context) (any, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return &redis.Subscription{Kind: "psubscribe", Channel: "platform_events:*", Count: 1}, nil
}

func (f *fakeReceiver) ReceiveTimeout(ctx context.Context, timeout time.Duration) (any, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-f.closed:
		return nil, redis.ErrClosed
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

func (f *fakeReceiver) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestNew(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrClientRequired) {
		t.Errorf("expected ErrClientRequired, got %v", err)
	}

	tr, err := New(newMockRedisClient(), WithPrefix("apps"), WithMaxLen(500))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tr.prefix != "apps" || tr.maxLen != 500 {
		t.Errorf("options not applied: prefix=%s maxLen=%d", tr.prefix, tr.maxLen)
	}
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := tr.Append(ctx, transport.Entry{Topic: "verity.document.created", Timestamp: ts, Data: []byte(`{"id":"1"}`)})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id != "1-0" {
		t.Errorf("expected id 1-0, got %s", id)
	}

	a := client.lastXAdd
	if a.Stream != "platform_events:stream:verity.document.created" {
		t.Errorf("unexpected stream key %s", a.Stream)
	}
	if a.MaxLen != DefaultMaxLen || !a.Approx {
		t.Errorf("expected approximate MAXLEN %d, got %d approx=%v", DefaultMaxLen, a.MaxLen, a.Approx)
	}
	values := a.Values.(map[string]any)
	if values[fieldTopic] != "verity.document.created" {
		t.Errorf("expected topic field, got %v", values[fieldTopic])
	}
	if values[fieldTimestamp] != ts.Format(time.RFC3339Nano) {
		t.Errorf("expected timestamp field, got %v", values[fieldTimestamp])
	}

	t.Run("xadd failure is returned", func(t *testing.T) {
		client.xaddErr = errors.New("connection refused")
		defer func() { client.xaddErr = nil }()
		if _, err := tr.Append(ctx, transport.Entry{Topic: "a.b"}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client)

	ts := time.Now().UTC()
	for i := range 3 {
		tr.Append(ctx, transport.Entry{Topic: "a.b", Timestamp: ts, Data: []byte(fmt.Sprintf("e%d", i))})
	}

	t.Run("from beginning", func(t *testing.T) {
		entries, err := tr.Read(ctx, "a.b", "", 0)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		if string(entries[0].Data) != "e0" || entries[0].Topic != "a.b" || !entries[0].Timestamp.Equal(ts) {
			t.Errorf("unexpected first entry %+v", entries[0])
		}
		if client.lastXRead.Streams[1] != "0" {
			t.Errorf("expected cursor 0, got %s", client.lastXRead.Streams[1])
		}
		if client.lastXRead.Block >= 0 {
			t.Errorf("expected non-blocking read, got block %v", client.lastXRead.Block)
		}
	})

	t.Run("after cursor with count", func(t *testing.T) {
		entries, err := tr.Read(ctx, "a.b", "1-0", 1)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(entries) != 1 || string(entries[0].Data) != "e1" {
			t.Errorf("unexpected entries %+v", entries)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		entries, err := tr.Read(ctx, "x.y", "", 10)
		if err != nil || len(entries) != 0 {
			t.Errorf("expected empty result, got %v, %v", entries, err)
		}
	})

	t.Run("len", func(t *testing.T) {
		n, err := tr.Len(ctx, "a.b")
		if err != nil || n != 3 {
			t.Errorf("expected 3, got %d, %v", n, err)
		}
	})
}

func TestNotifyAndListen(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client)

	fake := newFakeReceiver()
	var pattern string
	tr.psubscribe = func(ctx context.Context, p string) receiver {
		pattern = p
		return fake
	}

	if err := tr.Notify(ctx, "verity.created", []byte("data")); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got := client.published[0].channel; got != "platform_events:verity.created" {
		t.Errorf("unexpected channel %s", got)
	}

	s, err := tr.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer s.Close()
	if pattern != "platform_events:*" {
		t.Errorf("unexpected pattern %s", pattern)
	}

	fake.msgs <- &redis.Subscription{Kind: "psubscribe", Channel: "platform_events:*", Count: 1}
	fake.msgs <- &redis.Message{Channel: "other:verity.created", Payload: "ignored"}
	fake.msgs <- &redis.Message{Channel: "platform_events:verity.created", Pattern: "platform_events:*", Payload: "data"}

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	n, err := s.Next(rctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if n.Topic != "verity.created" || string(n.Data) != "data" {
		t.Errorf("unexpected notification %+v", n)
	}

	t.Run("timeout", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := s.Next(tctx); !transport.IsTimeout(err) {
			t.Errorf("expected timeout, got %v", err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		s.Close()
		if _, err := s.Next(ctx); !errors.Is(err, transport.ErrStreamClosed) {
			t.Errorf("expected ErrStreamClosed, got %v", err)
		}
	})
}

func TestListenSubscribeFailure(t *testing.T) {
	ctx := context.Background()
	tr, _ := New(newMockRedisClient())
	refused := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")

	fake := newFakeReceiver()
	fake.subscribeErr = refused
	tr.psubscribe = func(ctx context.Context, p string) receiver { return fake }

	if _, err := tr.Listen(ctx); !errors.Is(err, refused) {
		t.Errorf("expected Listen to return the subscribe error, got %v", err)
	}
	select {
	case <-fake.closed:
	default:
		t.Error("failed subscription was not closed")
	}

	t.Run("bus reports connection error", func(t *testing.T) {
		bus, err := eventbus.NewDistributedBus(tr, tr,
			eventbus.WithTracing(false),
			eventbus.WithMetrics(false),
			eventbus.WithReconnectInterval(10*time.Millisecond),
		)
		if err != nil {
			t.Fatalf("NewDistributedBus failed: %v", err)
		}
		defer bus.Close(ctx)

		sub, err := bus.Subscribe(ctx, "svc.#")
		if !eventbus.IsConnectionError(err) || !errors.Is(err, refused) {
			t.Errorf("expected ConnectionError from Subscribe, got %v", err)
		}
		if sub != nil {
			t.Error("expected no subscription")
		}
		if err := bus.RegisterHandler(ctx, eventbus.NewRecorder("svc.#")); !eventbus.IsConnectionError(err) {
			t.Errorf("expected ConnectionError from RegisterHandler, got %v", err)
		}
		if bus.Listening() {
			t.Error("listener running without a subscription")
		}
	})
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client)

	if res := tr.Health(ctx); !res.IsHealthy() {
		t.Errorf("expected healthy, got %s: %s", res.Status, res.Message)
	}

	client.pingErr = errors.New("connection refused")
	if res := tr.Health(ctx); res.Status != transport.HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", res.Status)
	}

	client.pingErr = nil
	tr.Close(ctx)
	if res := tr.Health(ctx); res.Status != transport.HealthStatusUnhealthy {
		t.Errorf("expected unhealthy after close, got %s", res.Status)
	}
	if err := tr.Notify(ctx, "a.b", nil); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}
