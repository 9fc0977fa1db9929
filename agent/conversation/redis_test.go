package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

// fakeUpstash speaks just enough of the Upstash REST protocol for the
// store: single GET/SET/DEL commands posted as JSON arrays.
type fakeUpstash struct {
	mu     sync.Mutex
	values map[string]string
	lastEX int64
	auth   string
}

func newFakeUpstash() *fakeUpstash {
	return &fakeUpstash{values: map[string]string{}}
}

func (f *fakeUpstash) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")

		var cmd []any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil || len(cmd) < 2 {
			http.Error(w, `{"error":"bad command"}`, http.StatusBadRequest)
			return
		}
		op, _ := cmd[0].(string)
		key, _ := cmd[1].(string)

		w.Header().Set("Content-Type", "application/json")
		switch op {
		case "GET":
			value, ok := f.values[key]
			if !ok {
				w.Write([]byte(`{"result":null}`))
				return
			}
			encoded, _ := json.Marshal(value)
			w.Write([]byte(`{"result":` + string(encoded) + `}`))
		case "SET":
			value, _ := cmd[2].(string)
			f.values[key] = value
			if len(cmd) == 5 {
				if ex, ok := cmd[4].(float64); ok {
					f.lastEX = int64(ex)
				}
			}
			w.Write([]byte(`{"result":"OK"}`))
		case "DEL":
			removed := 0
			if _, ok := f.values[key]; ok {
				delete(f.values, key)
				removed = 1
			}
			w.Write([]byte(`{"result":` + strconv.Itoa(removed) + `}`))
		default:
			w.Write([]byte(`{"error":"unsupported command"}`))
		}
	})
}

func newTestRedisStore(t *testing.T, opts ...RedisStoreOption) (*UpstashRedisStore, *fakeUpstash) {
	t.Helper()
	fake := newFakeUpstash()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{
		URL:     srv.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	}, opts...)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore: %v", err)
	}
	return store, fake
}

func TestUpstashRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, fake := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	history, err := store.Load(ctx, "CUST1001")
	if err != nil {
		t.Fatalf("Load unseen: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("unseen conversation should be empty, got %d", len(history))
	}

	if err := store.Append(ctx, "CUST1001", []contractx.Message{
		contractx.UserText("hi", now),
		contractx.AgentText("hello", now),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "CUST1001", []contractx.Message{contractx.UserText("more", now)}); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	history, err = store.Load(ctx, "CUST1001")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[2].Text != "more" {
		t.Fatalf("append order lost: %q", history[2].Text)
	}
	if fake.auth != "Bearer test-token" {
		t.Fatalf("missing bearer token, got %q", fake.auth)
	}
}

func TestUpstashRedisStoreClear(t *testing.T) {
	t.Parallel()

	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	existed, err := store.Clear(ctx, "CUST1001")
	if err != nil {
		t.Fatalf("Clear unseen: %v", err)
	}
	if existed {
		t.Fatal("nothing should exist yet")
	}

	if err := store.Append(ctx, "CUST1001", []contractx.Message{contractx.UserText("hi", time.Now().UTC())}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	existed, err = store.Clear(ctx, "CUST1001")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !existed {
		t.Fatal("expected the conversation to exist")
	}
}

func TestUpstashRedisStoreKeyPrefixAndTTL(t *testing.T) {
	t.Parallel()

	store, fake := newTestRedisStore(t, WithKeyPrefix("custom:"), WithTTL(time.Hour))
	ctx := context.Background()

	if err := store.Append(ctx, "CUST1001", []contractx.Message{contractx.UserText("hi", time.Now().UTC())}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if _, ok := fake.values["custom:CUST1001"]; !ok {
		t.Fatalf("expected key custom:CUST1001, have %v", fake.values)
	}
	if fake.lastEX != 3600 {
		t.Fatalf("expected 3600s ttl, got %d", fake.lastEX)
	}
}

func TestUpstashRedisStoreEmptyConversationID(t *testing.T) {
	t.Parallel()

	store, _ := newTestRedisStore(t)
	if _, err := store.Load(context.Background(), "  "); err == nil {
		t.Fatal("expected an error for an empty conversation id")
	}
}
