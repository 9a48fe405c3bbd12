package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/chatcluster/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplication struct {
	leader bool
	hint   string
}

func (f fakeReplication) IsLeader() bool    { return f.leader }
func (f fakeReplication) LeaderHint() string { return f.hint }

func TestHealthHandler(t *testing.T) {
	hs := NewServer(fakeReplication{leader: true}, nil, "test")

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET succeeds", http.MethodGet, http.StatusOK},
		{"POST fails", http.MethodPost, http.StatusMethodNotAllowed},
		{"DELETE fails", http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var resp HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.Equal(t, "healthy", resp.Status)
				assert.Equal(t, "test", resp.Version)
			}
		})
	}
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReadyHandler_LeaderAndStorageOK(t *testing.T) {
	store := newTestStore(t)
	hs := NewServer(fakeReplication{leader: true}, store, "test")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "leader", resp.Checks["replication"])
	assert.Equal(t, "ok", resp.Checks["storage"])
}

func TestReadyHandler_FollowerWithHint(t *testing.T) {
	store := newTestStore(t)
	hs := NewServer(fakeReplication{leader: false, hint: "node-a:50051"}, store, "test")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Contains(t, resp.Checks["replication"], "node-a:50051")
}

func TestReadyHandler_NoLeaderKnown(t *testing.T) {
	store := newTestStore(t)
	hs := NewServer(fakeReplication{}, store, "test")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.NotEmpty(t, resp.Message)
}

func TestReadyHandler_NilStore(t *testing.T) {
	hs := NewServer(fakeReplication{leader: true}, nil, "test")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
