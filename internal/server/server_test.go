package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lingorelay/lingorelay/internal/authn"
	"github.com/lingorelay/lingorelay/internal/bus"
	busmemory "github.com/lingorelay/lingorelay/internal/bus/memory"
	"github.com/lingorelay/lingorelay/internal/cache"
	"github.com/lingorelay/lingorelay/internal/feedback"
	"github.com/lingorelay/lingorelay/internal/notify"
	"github.com/lingorelay/lingorelay/pkg/storage"
	storagememory "github.com/lingorelay/lingorelay/pkg/storage/memory"
)

type fixture struct {
	server  *Server
	handler http.Handler
	store   *storagememory.Store
	bus     bus.Bus
	cache   cache.ContentCache
	buffer  *feedback.Buffer
}

func newFixture(t *testing.T, opts ...Opt) *fixture {
	t.Helper()

	f := &fixture{
		store:  storagememory.New(),
		bus:    busmemory.New(),
		cache:  cache.NewInMemoryCache(),
		buffer: feedback.NewBuffer(feedback.DefaultBufferCap),
	}
	streamer := feedback.NewStreamer(f.buffer, f.store,
		feedback.WithPollInterval(5*time.Millisecond),
		feedback.WithStreamTimeout(250*time.Millisecond),
	)
	f.server = New(f.store, f.bus, f.cache, f.buffer, streamer, opts...)
	f.handler = f.server.Handler()

	t.Cleanup(func() {
		require.NoError(t, f.bus.Close())
		f.cache.Stop()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTranslateAcceptsRequest(t *testing.T) {
	f := newFixture(t)

	received := make(chan *bus.RequestMessage, 1)
	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = f.bus.Subscribe(subCtx, bus.ChannelRequests, func(ctx context.Context, payload []byte) error {
			msg, err := bus.UnmarshalRequest(payload)
			if err == nil {
				received <- msg
			}
			return err
		})
	}()
	time.Sleep(10 * time.Millisecond)

	rec := f.do(t, http.MethodPost, "/translate", "alice", map[string]string{
		"text":            "hello world",
		"source_language": "en",
		"target_language": "de",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "pending", body["status"])
	id := body["id"].(string)
	require.NotEmpty(t, id)

	record, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, storage.StatusPending, record.Status)
	require.Equal(t, "alice", record.SubmitterID)

	select {
	case msg := <-received:
		require.Equal(t, id, msg.TranslationID)
		require.Equal(t, "hello world", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("request message never reached the bus")
	}
}

func TestTranslateValidation(t *testing.T) {
	f := newFixture(t, WithMaxTextLength(16))

	testcases := map[string]map[string]string{
		"missing_text": {
			"source_language": "en",
			"target_language": "de",
		},
		"missing_languages": {
			"text": "hello",
		},
		"oversized_text": {
			"text":            "this text is much longer than sixteen bytes",
			"source_language": "en",
			"target_language": "de",
		},
	}

	for name, payload := range testcases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/translate", "alice", payload)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTranslateCacheShortCircuit(t *testing.T) {
	f := newFixture(t)
	f.cache.Put(cache.Key("hello", "en", "de"), "hallo", time.Minute)

	rec := f.do(t, http.MethodPost, "/translate", "alice", map[string]string{
		"text":            "hello",
		"source_language": "en",
		"target_language": "de",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "completed", body["status"])
	require.Equal(t, "hallo", body["translated_text"])
	require.Equal(t, true, body["cached"])

	record, err := f.store.Get(context.Background(), body["id"].(string))
	require.NoError(t, err)
	require.Equal(t, storage.StatusCompleted, record.Status)
}

func TestTranslateReturnsServiceUnavailableWhenBusDown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bus.Close())

	rec := f.do(t, http.MethodPost, "/translate", "alice", map[string]string{
		"text":            "hello",
		"source_language": "en",
		"target_language": "de",
	})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Create(context.Background(), &storage.StatusRecord{
		ID:           "t1",
		Status:       storage.StatusFailed,
		Text:         "hello",
		ErrorMessage: "upstream unavailable",
		SubmitterID:  "alice",
		SourceLang:   "en",
		TargetLang:   "de",
	}))

	rec := f.do(t, http.MethodGet, "/translation/t1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "failed", body["status"])
	require.Equal(t, "upstream unavailable", body["error_message"])

	rec = f.do(t, http.MethodGet, "/translation/t1", "mallory", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/translation/unknown", "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Create(context.Background(), &storage.StatusRecord{
			ID:          fmt.Sprintf("t%d", i),
			Status:      storage.StatusCompleted,
			Text:        "hello",
			SubmitterID: "alice",
			SourceLang:  "en",
			TargetLang:  "de",
		}))
	}
	require.NoError(t, f.store.Create(context.Background(), &storage.StatusRecord{
		ID:          "other",
		Status:      storage.StatusCompleted,
		SubmitterID: "bob",
	}))

	rec := f.do(t, http.MethodGet, "/translations/history?limit=3", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(3), body["count"])
}

func TestPollDrainsBuffer(t *testing.T) {
	f := newFixture(t)

	f.buffer.Update(notify.Event{TranslationID: "t1", SubmitterID: "alice", TranslatedText: "hallo"})
	f.buffer.Update(notify.Event{TranslationID: "t2", SubmitterID: "bob", TranslatedText: "welt"})

	rec := f.do(t, http.MethodGet, "/feedback/poll", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["count"])

	rec = f.do(t, http.MethodGet, "/feedback/poll", "alice", nil)
	require.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestStreamDeliversCompletion(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Create(context.Background(), &storage.StatusRecord{
		ID:             "t1",
		Status:         storage.StatusCompleted,
		TranslatedText: "hallo",
		SubmitterID:    "alice",
	}))

	rec := f.do(t, http.MethodGet, "/feedback/stream/t1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `"translated_text":"hallo"`)
}

func TestStreamOwnership(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Create(context.Background(), &storage.StatusRecord{
		ID:          "t1",
		Status:      storage.StatusPending,
		SubmitterID: "alice",
	}))

	rec := f.do(t, http.MethodGet, "/feedback/stream/t1", "mallory", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/feedback/stream/unknown", "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Create(context.Background(), &storage.StatusRecord{
		ID: "t1", Status: storage.StatusCompleted, SubmitterID: "alice",
	}))
	require.NoError(t, f.store.Create(context.Background(), &storage.StatusRecord{
		ID: "t2", Status: storage.StatusFailed, SubmitterID: "alice",
	}))

	rec := f.do(t, http.MethodGet, "/stats", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(2), body["total"])
	require.Equal(t, float64(1), body["completed"])
	require.Equal(t, float64(50), body["success_rate"])
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestRequestIDHeaderPresent(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

type denyAll struct{}

func (denyAll) Authenticate(r *http.Request) (*authn.Claims, error) {
	return nil, errors.New("unauthenticated")
}

func (denyAll) Close() {}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	f := newFixture(t, WithAuthenticator(denyAll{}))
	rec := f.do(t, http.MethodGet, "/feedback/poll", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
