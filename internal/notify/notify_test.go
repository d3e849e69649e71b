package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/bus"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
)

func testFlag() domain.FraudFlag {
	return domain.FraudFlag{
		ID:             "flag-1",
		SubjectAddress: "0x1111111111111111111111111111111111111111",
		FlagType:       domain.FlagVelocityAbuse,
		Severity:       8,
		Details:        domain.VelocityEvidence{Count: 60, WindowSeconds: 3600, Limit: 50},
		CreatedAt:      1_700_000_000,
	}
}

type failingSender struct{ calls atomic.Int32 }

func (f *failingSender) Send(context.Context, []byte) error {
	f.calls.Add(1)
	return errors.New("down")
}
func (f *failingSender) Name() string { return "failing" }

type blockingSender struct{}

func (blockingSender) Send(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingSender) Name() string { return "blocking" }

func waitDone(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Wait(ctx))
}

func TestWebhookSender(t *testing.T) {
	var got FlagEvent
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		signature = r.Header.Get("X-TrustScore-Signature")
		assert.Equal(t, Sign(body, "s3cret"), signature)
		assert.Equal(t, EventFraudFlagged, r.Header.Get("X-TrustScore-Event"))
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier([]Sender{NewWebhookSender(srv.URL, "s3cret", time.Second)}, time.Second, nil)
	n.Notify(context.Background(), testFlag())
	waitDone(t, n)

	assert.Equal(t, EventFraudFlagged, got.Event)
	assert.Equal(t, "flag-1", got.Flag.ID)
	assert.Equal(t, 8, got.Flag.Severity)
	assert.NotEmpty(t, signature)
}

func TestWebhookSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "", time.Second).Send(context.Background(), []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestBusSender(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	received := make(chan []byte, 1)
	_, err := b.Subscribe(ctx, domain.TopicFraudFlagged, func(_ context.Context, msg *domain.Message) error {
		received <- msg.Payload
		return nil
	})
	require.NoError(t, err)

	n := New(domain.NotifyConfig{Publish: true, Timeout: time.Second}, b, nil)
	n.Notify(ctx, testFlag())
	waitDone(t, n)

	select {
	case payload := <-received:
		var ev FlagEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, "flag-1", ev.Flag.ID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus notification")
	}
}

func TestNotifierIsolation(t *testing.T) {
	var ok atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok.Add(1)
	}))
	defer srv.Close()

	failing := &failingSender{}
	n := NewNotifier([]Sender{failing, blockingSender{}, NewWebhookSender(srv.URL, "", time.Second)}, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	n.Notify(ctx, testFlag())
	cancel()
	waitDone(t, n)

	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), ok.Load(), "caller cancellation must not abort delivery")
}

func TestNotifierNoSenders(t *testing.T) {
	n := New(domain.NotifyConfig{}, nil, nil)
	n.Notify(context.Background(), testFlag())
	waitDone(t, n)
}

func TestNotifierDropsAfterWait(t *testing.T) {
	sender := &failingSender{}
	n := NewNotifier([]Sender{sender}, time.Second, nil)

	n.Notify(context.Background(), testFlag())
	waitDone(t, n)
	require.Equal(t, int32(1), sender.calls.Load())

	n.Notify(context.Background(), testFlag())
	waitDone(t, n)
	assert.Equal(t, int32(1), sender.calls.Load(), "flags after shutdown must not be delivered")
}
