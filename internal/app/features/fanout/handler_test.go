package fanout_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/askaway/internal/app/features/fanout"
	"github.com/dalemusser/askaway/internal/app/system/apperr"
	"github.com/dalemusser/askaway/internal/app/system/events"
	"github.com/dalemusser/askaway/internal/testutil"
	"go.uber.org/zap"
)

// memBroker delivers published payloads to in-process subscribers.
type memBroker struct {
	mu         sync.Mutex
	subs       map[string][]chan []byte
	published  map[string][][]byte
	publishErr error
	subscribed chan string
}

func newMemBroker() *memBroker {
	return &memBroker{
		subs:       map[string][]chan []byte{},
		published:  map[string][][]byte{},
		subscribed: make(chan string, 4),
	}
}

func (b *memBroker) Publish(_ context.Context, group string, payload []byte) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[group] = append(b.published[group], payload)
	for _, ch := range b.subs[group] {
		ch <- payload
	}
	return nil
}

type memSub struct{ ch chan []byte }

func (s memSub) Messages() <-chan []byte { return s.ch }
func (s memSub) Close() error            { return nil }

func (b *memBroker) Subscribe(_ context.Context, group string) (fanout.Subscription, error) {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	b.subs[group] = append(b.subs[group], ch)
	b.mu.Unlock()
	b.subscribed <- group
	return memSub{ch: ch}, nil
}

func fanoutRequest() events.Request {
	return events.Request{
		ConversationID: "19:conv",
		QnASessionID:   "65f000000000000000000001",
		OperationID:    "op-1",
		EventData: events.DataEvent{
			QnASessionID: "65f000000000000000000001",
			Type:         events.TypeQuestionAdded,
			Version:      3,
		},
	}
}

func TestPublish(t *testing.T) {
	b := newMemBroker()
	h := fanout.NewHandler(b, "k1", nil, zap.NewNop())

	req := testutil.NewJSONRequest("POST", "/", fanoutRequest())
	req.Header.Set(fanout.KeyHeader, "k1")
	rec := testutil.NewRecorder()
	fanout.Routes(h).ServeHTTP(rec, req)
	rec.AssertStatus(t, http.StatusAccepted)

	got := b.published["19:conv"]
	if len(got) != 1 {
		t.Fatalf("published: %d payloads", len(got))
	}
	var ev events.DataEvent
	if err := json.Unmarshal(got[0], &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ev.Type != events.TypeQuestionAdded || ev.Version != 3 {
		t.Errorf("payload event: %+v", ev)
	}
}

func TestPublish_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		body   any
		broker func() *memBroker
		want   int
	}{
		{"wrong key", "nope", fanoutRequest(), newMemBroker, http.StatusUnauthorized},
		{"missing conversation", "k1", events.Request{EventData: events.DataEvent{QnASessionID: "s"}}, newMemBroker, http.StatusBadRequest},
		{"broker down", "k1", fanoutRequest(), func() *memBroker {
			b := newMemBroker()
			b.publishErr = errors.New("redis down")
			return b
		}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewJSONRequest("POST", "/", tt.body)
			req.Header.Set(fanout.KeyHeader, tt.key)
			rec := testutil.NewRecorder()
			fanout.Routes(fanout.NewHandler(tt.broker(), "k1", nil, zap.NewNop())).ServeHTTP(rec, req)
			rec.AssertStatus(t, tt.want)
		})
	}
}

func TestStream_RequiresIdentityAndMembership(t *testing.T) {
	deny := func(context.Context, string, string) error {
		return apperr.Forbidden(apperr.CodeNotMember, "not a member")
	}
	h := fanout.NewHandler(newMemBroker(), "", deny, zap.NewNop())

	rec := testutil.NewRecorder()
	fanout.Routes(h).ServeHTTP(rec, testutil.NewRequest("GET", "/groups/19:conv/events"))
	rec.AssertStatus(t, http.StatusUnauthorized)

	rec = testutil.NewRecorder()
	req := testutil.WithUser(testutil.NewRequest("GET", "/groups/19:conv/events"), testutil.AttendeeUser())
	fanout.Routes(h).ServeHTTP(rec, req)
	rec.AssertStatus(t, http.StatusForbidden)
}

func TestStream_DeliversPublishedEvents(t *testing.T) {
	b := newMemBroker()
	h := fanout.NewHandler(b, "", nil, zap.NewNop())
	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, testutil.WithUser(r, testutil.AttendeeUser()))
		})
	}
	srv := httptest.NewServer(fanout.Routes(h, withUser))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/groups/19:conv/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	select {
	case <-b.subscribed:
	case <-ctx.Done():
		t.Fatal("stream never subscribed")
	}
	if err := b.Publish(ctx, "19:conv", []byte(`{"version":7}`)); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
			break
		}
		lines = append(lines, line)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "event: data") || !strings.Contains(joined, `data: {"version":7}`) {
		t.Errorf("stream content:\n%s", joined)
	}
}
