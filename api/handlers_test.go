package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/kimipdb306/scout-tdl/board"
	"github.com/kimipdb306/scout-tdl/domain"
	"github.com/kimipdb306/scout-tdl/storage"
)

type fakeSyncer struct {
	mu      sync.Mutex
	adds    []string
	updates []string
	removes []string
}

func (f *fakeSyncer) DispatchAdd(item *domain.Item, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, item.ID)
}

func (f *fakeSyncer) DispatchUpdate(item *domain.Item, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, item.ID)
}

func (f *fakeSyncer) DispatchRemove(itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, itemID)
}

func (f *fakeSyncer) counts() (adds, updates, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adds), len(f.updates), len(f.removes)
}

type stubAuth struct {
	userID string
	err    error
}

func (s stubAuth) UserIDFromAuthHeader(string) (string, error) {
	return s.userID, s.err
}

func newTestServer(t *testing.T) (*echo.Echo, *board.Registry, *fakeSyncer) {
	t.Helper()

	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	logger, _ := test.NewNullLogger()
	boards := board.NewRegistry(store, logger)
	syncer := &fakeSyncer{}

	e := echo.New()
	Register(e, boards, syncer, stubAuth{userID: "scout"}, logger)
	return e, boards, syncer
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func createItem(t *testing.T, e *echo.Echo, body string) *domain.Item {
	t.Helper()
	rec := doRequest(e, http.MethodPost, "/api/items", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: status %d: %s", rec.Code, rec.Body.String())
	}
	var item domain.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	return &item
}

func TestPostItemCreatesAndDispatchesAdd(t *testing.T) {
	e, _, syncer := newTestServer(t)

	item := createItem(t, e, `{"title":"write report","priority":"HIGH","due_date":"2025-06-01","description":"q2"}`)
	if !strings.HasPrefix(item.ID, "item_") {
		t.Fatalf("unexpected id: %s", item.ID)
	}
	if item.Status != domain.StatusTodo {
		t.Fatalf("new items must start in todo, got %s", item.Status)
	}
	if item.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected priority: %s", item.Priority)
	}

	adds, _, _ := syncer.counts()
	if adds != 1 || syncer.adds[0] != item.ID {
		t.Fatalf("expected one add dispatch for %s, got %v", item.ID, syncer.adds)
	}
}

func TestPostItemDefaultsToMediumPriority(t *testing.T) {
	e, _, _ := newTestServer(t)

	item := createItem(t, e, `{"title":"untriaged"}`)
	if item.Priority != domain.PriorityMedium {
		t.Fatalf("expected MEDIUM default, got %s", item.Priority)
	}
}

func TestPostItemWithTags(t *testing.T) {
	e, _, _ := newTestServer(t)

	item := createItem(t, e, `{"title":"tagged","tags":["work","urgent"]}`)
	if len(item.Tags) != 2 || item.Tags[0] != "work" {
		t.Fatalf("tags not applied: %v", item.Tags)
	}
}

func TestPostItemValidation(t *testing.T) {
	e, _, syncer := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{name: "missing title", body: `{"priority":"HIGH"}`},
		{name: "bad priority", body: `{"title":"x","priority":"URGENT"}`},
		{name: "bad due date", body: `{"title":"x","due_date":"June 1st"}`},
		{name: "unknown field", body: `{"title":"x","color":"red"}`},
		{name: "not json", body: `nope`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/api/items", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	if adds, _, _ := syncer.counts(); adds != 0 {
		t.Fatalf("rejected creates must not dispatch, got %d adds", adds)
	}
}

func TestGetItemsGroupsByColumn(t *testing.T) {
	e, _, _ := newTestServer(t)

	a := createItem(t, e, `{"title":"one"}`)
	createItem(t, e, `{"title":"two"}`)
	rec := doRequest(e, http.MethodPost, "/api/items/"+a.ID+"/move", `{"status":"in_progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d", rec.Code)
	}

	rec = doRequest(e, http.MethodGet, "/api/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get items: %d", rec.Code)
	}
	var resp boardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Todo) != 1 || len(resp.InProgress) != 1 {
		t.Fatalf("unexpected grouping: todo=%d in_progress=%d", len(resp.Todo), len(resp.InProgress))
	}
}

func TestGetItemsStatusFilter(t *testing.T) {
	e, _, _ := newTestServer(t)
	createItem(t, e, `{"title":"one"}`)

	rec := doRequest(e, http.MethodGet, "/api/items?status=todo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered get: %d", rec.Code)
	}
	var resp itemsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}

	rec = doRequest(e, http.MethodGet, "/api/items?status=blocked", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status filter must 400, got %d", rec.Code)
	}
}

func TestGetItemsDueWindow(t *testing.T) {
	e, _, _ := newTestServer(t)
	createItem(t, e, `{"title":"soon","due_date":"2025-06-01"}`)
	createItem(t, e, `{"title":"later","due_date":"2025-07-15"}`)
	createItem(t, e, `{"title":"undated"}`)

	rec := doRequest(e, http.MethodGet, "/api/items?due_start=2025-06-01&due_end=2025-06-30", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("due window get: %d", rec.Code)
	}
	var resp itemsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Title != "soon" {
		t.Fatalf("due window filter failed: %+v", resp.Items)
	}

	rec = doRequest(e, http.MethodGet, "/api/items?due_start=June", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid due window must 400, got %d", rec.Code)
	}
}

func TestGetItemByID(t *testing.T) {
	e, _, _ := newTestServer(t)
	item := createItem(t, e, `{"title":"findable"}`)

	rec := doRequest(e, http.MethodGet, "/api/items/"+item.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get item: %d", rec.Code)
	}

	rec = doRequest(e, http.MethodGet, "/api/items/item_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "item_missing") {
		t.Fatalf("404 body should name the id: %s", rec.Body.String())
	}
}

func TestPutItemUpdatesAndDispatches(t *testing.T) {
	e, _, syncer := newTestServer(t)
	item := createItem(t, e, `{"title":"draft","due_date":"2025-06-01"}`)

	rec := doRequest(e, http.MethodPut, "/api/items/"+item.ID, `{"title":"final","priority":"TOP_PRIORITY"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d: %s", rec.Code, rec.Body.String())
	}
	var updated domain.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Title != "final" || updated.Priority != domain.PriorityTop {
		t.Fatalf("update not applied: %+v", updated)
	}

	_, updates, removes := syncer.counts()
	if updates != 1 || removes != 0 {
		t.Fatalf("expected one update dispatch, got updates=%d removes=%d", updates, removes)
	}
}

func TestPutItemToDoneDispatchesRemoveWithoutStamping(t *testing.T) {
	e, _, syncer := newTestServer(t)
	item := createItem(t, e, `{"title":"quick fix","due_date":"2025-06-01"}`)

	rec := doRequest(e, http.MethodPut, "/api/items/"+item.ID, `{"status":"done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d", rec.Code)
	}
	var updated domain.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Status != domain.StatusDone {
		t.Fatalf("status not applied: %s", updated.Status)
	}
	if updated.CompletedAt != nil {
		t.Fatal("field updates must not stamp completion, only moves do")
	}

	_, updates, removes := syncer.counts()
	if removes != 1 || updates != 0 {
		t.Fatalf("done via update must dispatch remove, got updates=%d removes=%d", updates, removes)
	}
}

func TestPutItemNotFound(t *testing.T) {
	e, _, syncer := newTestServer(t)

	rec := doRequest(e, http.MethodPut, "/api/items/item_missing", `{"title":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if _, updates, removes := syncer.counts(); updates+removes != 0 {
		t.Fatal("failed updates must not dispatch")
	}
}

func TestMoveItemToDone(t *testing.T) {
	e, _, syncer := newTestServer(t)
	item := createItem(t, e, `{"title":"ship it","due_date":"2025-06-01"}`)

	rec := doRequest(e, http.MethodPost, "/api/items/"+item.ID+"/move", `{"status":"done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d: %s", rec.Code, rec.Body.String())
	}
	var moved domain.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &moved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if moved.CompletedAt == nil || moved.TimeToComplete == nil {
		t.Fatalf("move to done must stamp completion: %+v", moved)
	}

	_, updates, removes := syncer.counts()
	if removes != 1 || updates != 0 {
		t.Fatalf("move to done must dispatch remove, got updates=%d removes=%d", updates, removes)
	}
}

func TestMoveItemBetweenOpenColumnsDispatchesUpdate(t *testing.T) {
	e, _, syncer := newTestServer(t)
	item := createItem(t, e, `{"title":"in flight","due_date":"2025-06-01"}`)

	rec := doRequest(e, http.MethodPost, "/api/items/"+item.ID+"/move", `{"status":"review"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d", rec.Code)
	}

	_, updates, removes := syncer.counts()
	if updates != 1 || removes != 0 {
		t.Fatalf("expected one update dispatch, got updates=%d removes=%d", updates, removes)
	}
}

func TestMoveItemValidation(t *testing.T) {
	e, _, _ := newTestServer(t)
	item := createItem(t, e, `{"title":"x"}`)

	rec := doRequest(e, http.MethodPost, "/api/items/"+item.ID+"/move", `{"status":"archived"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPost, "/api/items/item_missing/move", `{"status":"done"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteItemIsIdempotent(t *testing.T) {
	e, _, syncer := newTestServer(t)
	item := createItem(t, e, `{"title":"ephemeral"}`)

	for i := 0; i < 2; i++ {
		rec := doRequest(e, http.MethodDelete, "/api/items/"+item.ID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("delete attempt %d: %d", i+1, rec.Code)
		}
	}

	_, _, removes := syncer.counts()
	if removes != 2 {
		t.Fatalf("each delete dispatches a remove, got %d", removes)
	}

	rec := doRequest(e, http.MethodGet, "/api/items/"+item.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted item still fetchable: %d", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	e, _, _ := newTestServer(t)
	createItem(t, e, `{"title":"one","priority":"TOP_PRIORITY"}`)
	b := createItem(t, e, `{"title":"two"}`)
	doRequest(e, http.MethodPost, "/api/items/"+b.ID+"/move", `{"status":"in_progress"}`)

	rec := doRequest(e, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	var resp boardStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TodoCount != 1 || resp.InProgressCount != 1 || resp.TotalItems != 2 {
		t.Fatalf("unexpected counts: %+v", resp)
	}
	if resp.TopPriorityTodo == nil || resp.TopPriorityTodo.Title != "one" {
		t.Fatalf("expected top priority todo, got %+v", resp.TopPriorityTodo)
	}
	if resp.TopPriorityInProgress != nil {
		t.Fatal("no top priority item in progress")
	}
}

func TestGetHistory(t *testing.T) {
	e, _, _ := newTestServer(t)
	for _, title := range []string{"a", "b", "c"} {
		item := createItem(t, e, `{"title":"`+title+`"}`)
		doRequest(e, http.MethodPost, "/api/items/"+item.ID+"/move", `{"status":"done"}`)
	}
	createItem(t, e, `{"title":"still open"}`)

	rec := doRequest(e, http.MethodGet, "/api/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Items) != 3 {
		t.Fatalf("unexpected history size: total=%d items=%d", resp.Total, len(resp.Items))
	}
	if resp.Stats.TotalCompleted != 3 {
		t.Fatalf("unexpected stats: %+v", resp.Stats)
	}

	rec = doRequest(e, http.MethodGet, "/api/history?limit=2&offset=1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Total != 3 {
		t.Fatalf("window not applied: items=%d total=%d", len(resp.Items), resp.Total)
	}

	rec = doRequest(e, http.MethodGet, "/api/history?limit=nope", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit must 400, got %d", rec.Code)
	}
}

func TestGetHistoryByTag(t *testing.T) {
	e, _, _ := newTestServer(t)
	tagged := createItem(t, e, `{"title":"tagged","tags":["work"]}`)
	doRequest(e, http.MethodPost, "/api/items/"+tagged.ID+"/move", `{"status":"done"}`)
	plain := createItem(t, e, `{"title":"plain"}`)
	doRequest(e, http.MethodPost, "/api/items/"+plain.ID+"/move", `{"status":"done"}`)

	rec := doRequest(e, http.MethodGet, "/api/history?tag=work", "")
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != tagged.ID {
		t.Fatalf("tag filter failed: %+v", resp.Items)
	}
}

func TestGetHistoryStats(t *testing.T) {
	e, _, _ := newTestServer(t)
	item := createItem(t, e, `{"title":"done deal","priority":"HIGH"}`)
	doRequest(e, http.MethodPost, "/api/items/"+item.ID+"/move", `{"status":"done"}`)

	rec := doRequest(e, http.MethodGet, "/api/history/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history stats: %d", rec.Code)
	}
	var stats domain.CompletionStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalCompleted != 1 || stats.ByPriority["HIGH"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPostSyncSchedulesOpenDueItems(t *testing.T) {
	e, _, syncer := newTestServer(t)
	createItem(t, e, `{"title":"due","due_date":"2025-06-01"}`)
	createItem(t, e, `{"title":"no date"}`)
	done := createItem(t, e, `{"title":"done","due_date":"2025-06-02"}`)
	doRequest(e, http.MethodPost, "/api/items/"+done.ID+"/move", `{"status":"done"}`)

	rec := doRequest(e, http.MethodPost, "/api/sync", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("sync: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scheduled 1 items") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	_, updates, _ := syncer.counts()
	if updates != 1 {
		t.Fatalf("expected 1 update dispatch from sync, got %d", updates)
	}
}

func TestUnauthorizedRequests(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	logger, _ := test.NewNullLogger()
	boards := board.NewRegistry(store, logger)
	e := echo.New()
	Register(e, boards, &fakeSyncer{}, stubAuth{err: errors.New("bad token")}, logger)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/items"},
		{http.MethodPost, "/api/items"},
		{http.MethodGet, "/api/stats"},
		{http.MethodGet, "/api/history"},
		{http.MethodPost, "/api/sync"},
	} {
		rec := doRequest(e, route.method, route.path, `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	e, _, _ := newTestServer(t)
	rec := doRequest(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
