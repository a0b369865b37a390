package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/api/types"
	"github.com/urmzd/zgw/pkg/db"
)

// fakeAutomationStore is an in-memory db.AutomationStore, mirroring the
// fake-dependency style used throughout pkg/action and pkg/rules tests.
type fakeAutomationStore struct {
	byID     map[string]*db.Automation
	notified int
}

func newFakeAutomationStore() *fakeAutomationStore {
	return &fakeAutomationStore{byID: map[string]*db.Automation{}}
}

func (s *fakeAutomationStore) Get(_ context.Context, id string) (*db.Automation, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, db.ErrAutomationNotFound
	}
	return a, nil
}

func (s *fakeAutomationStore) ListByProfile(_ context.Context, profileID int64) ([]*db.Automation, error) {
	var out []*db.Automation
	for _, a := range s.byID {
		if a.ProfileID == profileID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAutomationStore) Create(_ context.Context, a *db.Automation) error {
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	s.byID[a.ID] = a
	return nil
}

func (s *fakeAutomationStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	a, ok := s.byID[id]
	if !ok {
		return db.ErrAutomationNotFound
	}
	a.Enabled = enabled
	return nil
}

func (s *fakeAutomationStore) Update(_ context.Context, a *db.Automation) error {
	if _, ok := s.byID[a.ID]; !ok {
		return db.ErrAutomationNotFound
	}
	s.byID[a.ID] = a
	return nil
}

func (s *fakeAutomationStore) Delete(_ context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return db.ErrAutomationNotFound
	}
	delete(s.byID, id)
	return nil
}

func setupAutomationsRouter(store *fakeAutomationStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAutomationsHandler(store, 1, func() { store.notified++ })

	r := gin.New()
	v1 := r.Group("/api/v1/automations")
	v1.GET("", h.ListAutomations)
	v1.POST("", h.CreateAutomation)
	v1.GET("/:id", h.GetAutomation)
	v1.PUT("/:id", h.UpdateAutomation)
	v1.PATCH("/:id/enabled", h.SetAutomationEnabled)
	v1.DELETE("/:id", h.DeleteAutomation)
	return r
}

func validAutomationBody(name string) []byte {
	body := types.CreateAutomationRequest{
		Name: name,
		Source: map[string]interface{}{
			"id": name,
			"triggers": []interface{}{
				map[string]interface{}{"type": "event", "event_type": "device.join"},
			},
			"actions": []interface{}{
				map[string]interface{}{"type": "zigbee", "cmd": "onoff.on", "device_uid": "0x00124b00aabbccdd", "endpoint": 1},
			},
		},
	}
	buf, _ := json.Marshal(body)
	return buf
}

func TestCreateAutomationPersistsAndNotifies(t *testing.T) {
	store := newFakeAutomationStore()
	router := setupAutomationsRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/automations", bytes.NewReader(validAutomationBody("porch-light")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp types.AutomationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "porch-light", resp.Name)
	assert.True(t, resp.Enabled)
	assert.NotEmpty(t, resp.ID)
	assert.Len(t, store.byID, 1)
	assert.Equal(t, 1, store.notified)
}

func TestCreateAutomationRejectsUncompilableDocument(t *testing.T) {
	store := newFakeAutomationStore()
	router := setupAutomationsRouter(store)

	body := types.CreateAutomationRequest{Name: "bad", Source: map[string]interface{}{"id": "bad"}}
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/automations", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.byID)
}

func TestGetAutomationNotFound(t *testing.T) {
	store := newFakeAutomationStore()
	router := setupAutomationsRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/automations/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAutomationsFiltersByProfile(t *testing.T) {
	store := newFakeAutomationStore()
	store.byID["a1"] = &db.Automation{ID: "a1", ProfileID: 1, Name: "a"}
	store.byID["a2"] = &db.Automation{ID: "a2", ProfileID: 2, Name: "b"}
	router := setupAutomationsRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/automations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.ListAutomationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "a1", resp.Automations[0].ID)
}

func TestSetAutomationEnabledTogglesFlag(t *testing.T) {
	store := newFakeAutomationStore()
	store.byID["a1"] = &db.Automation{ID: "a1", ProfileID: 1, Name: "a", Enabled: true}
	router := setupAutomationsRouter(store)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/automations/a1/enabled", bytes.NewReader([]byte(`{"enabled":false}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, store.byID["a1"].Enabled)
	assert.Equal(t, 1, store.notified)
}

func TestDeleteAutomationRemovesEntry(t *testing.T) {
	store := newFakeAutomationStore()
	store.byID["a1"] = &db.Automation{ID: "a1", ProfileID: 1, Name: "a"}
	router := setupAutomationsRouter(store)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/automations/a1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := store.byID["a1"]
	assert.False(t, ok)
}
