package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/conditions"
	"github.com/voidexforge/gamification-engine/internal/dryrun"
	"github.com/voidexforge/gamification-engine/internal/log"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/queue"
	"github.com/voidexforge/gamification-engine/internal/rules"
	"github.com/voidexforge/gamification-engine/internal/storage/memstore"
	"github.com/voidexforge/gamification-engine/internal/userstate"
)

func testServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.SeedCatalog(nil, []*model.PointCategory{{ID: "gold", NegativeAllowed: false, SpendAllowed: true}}, nil, nil, nil, nil)
	cat := catalog.New(store, log.Nop())
	require.NoError(t, cat.Load(context.Background()))

	q := queue.New(store, store, log.Nop(), 100)
	eng := rules.New(cat, conditions.NewEvaluator(nil), 250)
	hw := rules.NewStoreHistoryWindow(store, 0, 0)
	dr := dryrun.New(hw, store, eng)
	proj := userstate.New(store, store, store, cat)

	srv := New(q, dr, proj, store, cat, log.Nop(), nil)
	return srv, store
}

func TestHandleIngest_AcceptsValidEvent(t *testing.T) {
	srv, _ := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{"eventType": "A", "userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleIngest_RejectsMissingFields(t *testing.T) {
	srv, _ := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{"eventType": "A"})
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_DuplicateEventIDReturns409(t *testing.T) {
	srv, _ := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{"eventId": "fixed-1", "eventType": "A", "userId": "u1"})

	req1 := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHandleSpend_InsufficientBalanceReturns409(t *testing.T) {
	srv, _ := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{"category": "gold", "amount": 50})
	req := httptest.NewRequest(http.MethodPost, "/wallets/u1/spend", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetUserState_ReturnsProjection(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/users/u1/state", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var state model.UserState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "u1", state.UserID)
}
