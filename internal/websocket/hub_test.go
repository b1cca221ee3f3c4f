package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitegen-backend/internal/models"
)

type stubVerifier struct{ valid string }

func (s stubVerifier) ParseToken(token string) (string, error) {
	if token != s.valid {
		return "", errors.New("bad token")
	}
	return "user", nil
}

func channelFor(id uuid.UUID) string { return "project_updates:" + id.String() }

func newTestHub(t *testing.T, verifier TokenVerifier) (*Hub, *miniredis.Miniredis, *httptest.Server, uuid.UUID) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	hub := NewHub(client, verifier, channelFor)
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, id)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.CloseAll)
	return hub, mr, srv, id
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + query
}

func TestHub_RelaysProjectChannel(t *testing.T) {
	hub, mr, srv, id := newTestHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channelFor(id))[channelFor(id)] == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Watchers(id))

	mr.Publish(channelFor(id), `{"type":"status_update","status":"installing"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "installing")
}

func TestHub_LastWatcherCancelsSubscription(t *testing.T) {
	hub, mr, srv, id := newTestHub(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channelFor(id))[channelFor(id)] == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.Watchers(id) == 0 && mr.PubSubNumSub(channelFor(id))[channelFor(id)] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RequiresTokenWhenConfigured(t *testing.T) {
	_, _, srv, _ := newTestHub(t, stubVerifier{valid: "good"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "?token=bad"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=good"), nil)
	require.NoError(t, err)
	conn.Close()
}

type stubOwners map[uuid.UUID]string

func (s stubOwners) GetByID(ctx context.Context, id uuid.UUID) (*models.GeneratedProject, error) {
	owner, ok := s[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &models.GeneratedProject{ID: id, Owner: owner}, nil
}

func TestHub_RestrictsWatchersToOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mine, theirs := uuid.New(), uuid.New()
	hub := NewHub(client, stubVerifier{valid: "good"}, channelFor).
		RestrictToOwners(stubOwners{mine: "user", theirs: "someone-else"})
	t.Cleanup(hub.CloseAll)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.URL.Query().Get("project"))
		hub.Serve(w, r, id)
	}))
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=good&project="+theirs.String()), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=good&project="+mine.String()), nil)
	require.NoError(t, err)
	conn.Close()
}
