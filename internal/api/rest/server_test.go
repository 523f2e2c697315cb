package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/actions"
	"github.com/KevinKickass/OpenPanelCore/internal/api/websocket"
	"github.com/KevinKickass/OpenPanelCore/internal/auth"
	"github.com/KevinKickass/OpenPanelCore/internal/bindings"
	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/KevinKickass/OpenPanelCore/internal/engine"
	"github.com/KevinKickass/OpenPanelCore/internal/interfaces"
	"github.com/KevinKickass/OpenPanelCore/internal/layout"
	"github.com/KevinKickass/OpenPanelCore/internal/project"
	"github.com/KevinKickass/OpenPanelCore/internal/properties"
	"github.com/KevinKickass/OpenPanelCore/internal/sequencer"
	"github.com/KevinKickass/OpenPanelCore/internal/storage"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

type testLM struct {
	cfg      *config.Config
	table    *components.Table
	detector *layout.Detector
	seq      *sequencer.Sequencer
	session  *engine.Session
	props    *properties.Manager
	registry *actions.Registry
	binder   *bindings.Binder
	projects *project.Manager
}

func (l *testLM) Config() *config.Config          { return l.cfg }
func (l *testLM) Table() *components.Table        { return l.table }
func (l *testLM) Detector() *layout.Detector      { return l.detector }
func (l *testLM) Sequencer() *sequencer.Sequencer { return l.seq }
func (l *testLM) Session() *engine.Session        { return l.session }
func (l *testLM) Properties() *properties.Manager { return l.props }
func (l *testLM) Actions() *actions.Registry      { return l.registry }
func (l *testLM) Binder() *bindings.Binder        { return l.binder }
func (l *testLM) Projects() *project.Manager      { return l.projects }
func (l *testLM) Shutdown(ctx context.Context) error {
	return nil
}
func (l *testLM) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", ComponentCount: len(l.table.List())}
}

func newTestServer(t *testing.T, authCfg config.AuthConfig) (*Server, *testLM) {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.Default()
	cfg.Auth = authCfg
	cfg.Sequencer.TimeUnit = time.Millisecond

	store, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "projects.db"))
	assert.Equal(t, err, nil)
	t.Cleanup(store.Close)

	lm := &testLM{cfg: cfg}
	lm.table = components.NewTable(logger)
	lm.detector = layout.NewDetector(lm.table, cfg.Grid.Size, logger)
	lm.detector.Start()
	t.Cleanup(lm.detector.Stop)
	lm.session = engine.NewSession(engine.Config{Address: "ws://127.0.0.1:1/websocket"}, nil, logger)
	lm.props = properties.NewManager(lm.session, properties.Config{}, logger)
	lm.registry = actions.NewRegistry(logger)
	lm.seq = sequencer.New(lm.table, lm.registry, sequencer.NewEventStreamer(), sequencer.Config{TimeUnit: time.Millisecond, History: 10}, logger)
	lm.binder = bindings.New(lm.table, lm.props, lm.registry, lm.session, lm.seq, logger)
	lm.binder.Start()
	t.Cleanup(lm.binder.Stop)
	lm.projects, err = project.NewManager(lm.table, store, lm.seq, logger)
	assert.Equal(t, err, nil)

	authService := auth.NewAuthService(authCfg, logger)
	hub := websocket.NewHub(logger, authService, nil)
	return NewServer(cfg, lm, logger, hub, authService), lm
}

func do(t *testing.T, s *Server, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	case string:
		buf.WriteString(b)
	default:
		assert.Equal(t, json.NewEncoder(&buf).Encode(b), nil)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), v), nil)
}

type describedComponent struct {
	Component map[string]any `json:"component"`
	Overlaps  []string       `json:"overlaps"`
	Bound     bool           `json:"bound"`
}

func create(t *testing.T, s *Server, body string) describedComponent {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/v1/components", body)
	assert.Equal(t, w.Code, http.StatusCreated)
	var out describedComponent
	decode(t, w, &out)
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, config.AuthConfig{})
	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, w.Code, http.StatusOK)

	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, body["status"], "ok")
	assert.Equal(t, body["engine"], "DISCONNECTED")
}

func TestComponentCRUD(t *testing.T) {
	s, lm := newTestServer(t, config.AuthConfig{})

	created := create(t, s, `{"type":"boolean","gui_name":"Earth","property":"Scene.Earth.Renderable.Enabled","action":"toggle","x":12,"y":13}`)
	id := created.Component["id"].(string)
	assert.NotEqual(t, id, "")
	// Snapped to the grid on creation.
	assert.Equal(t, created.Component["x"], float64(0))
	assert.Equal(t, created.Component["y"], float64(25))

	w := do(t, s, http.MethodPatch, "/api/v1/components/"+id, map[string]any{"gui_name": "Earth layer"})
	assert.Equal(t, w.Code, http.StatusOK)
	comp, _ := lm.table.GetComponentByID(id)
	assert.Equal(t, comp.Common().GuiName, "Earth layer")

	w = do(t, s, http.MethodPatch, "/api/v1/components/"+id, map[string]any{"type": "number"})
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = do(t, s, http.MethodPatch, "/api/v1/components/"+id, map[string]any{"isMulti": "pendingSave"})
	assert.Equal(t, w.Code, http.StatusBadRequest)
	var membershipErr types.ErrorResponse
	decode(t, w, &membershipErr)
	assert.Equal(t, membershipErr.Error.Code, "MULTI_400")
	comp, _ = lm.table.GetComponentByID(id)
	assert.Equal(t, comp.Common().IsMulti, types.MultiFalse)

	w = do(t, s, http.MethodPost, "/api/v1/components", `{"type":"trigger","isMulti":"pendingDelete"}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = do(t, s, http.MethodGet, "/api/v1/components?type=boolean", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, list.Count, 1)

	w = do(t, s, http.MethodDelete, "/api/v1/components/"+id, nil)
	assert.Equal(t, w.Code, http.StatusOK)

	w = do(t, s, http.MethodGet, "/api/v1/components/"+id, nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
	var errBody types.ErrorResponse
	decode(t, w, &errBody)
	assert.Equal(t, errBody.Error.Code, "COMPONENT_404")

	w = do(t, s, http.MethodPost, "/api/v1/components", `{"type":"hologram"}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestMoveReportsOverlaps(t *testing.T) {
	s, _ := newTestServer(t, config.AuthConfig{})

	a := create(t, s, `{"type":"title","gui_name":"A"}`)
	b := create(t, s, `{"type":"title","gui_name":"B","x":600}`)
	aID := a.Component["id"].(string)
	bID := b.Component["id"].(string)
	assert.Equal(t, len(b.Overlaps), 0)

	w := do(t, s, http.MethodPut, "/api/v1/components/"+bID+"/geometry",
		map[string]float64{"x": 110, "y": 40, "width": 300, "height": 175})
	assert.Equal(t, w.Code, http.StatusOK)
	var moved describedComponent
	decode(t, w, &moved)
	assert.Equal(t, moved.Component["x"], float64(100))
	assert.Equal(t, moved.Overlaps, []string{aID})

	w = do(t, s, http.MethodGet, "/api/v1/components/"+aID+"/overlaps", nil)
	var overlaps struct {
		Overlaps []string `json:"overlaps"`
	}
	decode(t, w, &overlaps)
	assert.Equal(t, overlaps.Overlaps, []string{bID})

	w = do(t, s, http.MethodPost, "/api/v1/selection/move", map[string]any{"ids": []string{bID}, "dx": 600, "dy": 0})
	assert.Equal(t, w.Code, http.StatusOK)
	w = do(t, s, http.MethodGet, "/api/v1/components/"+aID+"/overlaps", nil)
	decode(t, w, &overlaps)
	assert.Equal(t, len(overlaps.Overlaps), 0)
}

func TestTriggerPageComponent(t *testing.T) {
	s, lm := newTestServer(t, config.AuthConfig{})

	w := do(t, s, http.MethodPost, "/api/v1/pages", nil)
	assert.Equal(t, w.Code, http.StatusCreated)

	page := create(t, s, `{"type":"page","gui_name":"Next","page":2}`)
	assert.Equal(t, page.Bound, true)

	w = do(t, s, http.MethodPost, "/api/v1/components/"+page.Component["id"].(string)+"/trigger", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	idx, _ := lm.table.CurrentPage()
	assert.Equal(t, idx, 1)

	w = do(t, s, http.MethodPut, "/api/v1/pages/current", map[string]int{"index": 0})
	assert.Equal(t, w.Code, http.StatusOK)
	w = do(t, s, http.MethodPut, "/api/v1/pages/current", map[string]int{"index": 7})
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestTriggerWithoutEngine(t *testing.T) {
	s, _ := newTestServer(t, config.AuthConfig{})

	b := create(t, s, `{"type":"boolean","property":"Scene.Earth.Renderable.Enabled","action":"on"}`)
	assert.Equal(t, b.Bound, false)

	w := do(t, s, http.MethodPost, "/api/v1/components/"+b.Component["id"].(string)+"/trigger", nil)
	assert.Equal(t, w.Code, http.StatusConflict)
	var errBody types.ErrorResponse
	decode(t, w, &errBody)
	assert.Equal(t, errBody.Error.Code, "ACTION_409")

	w = do(t, s, http.MethodPost, "/api/v1/engine/friction/rotation", nil)
	assert.Equal(t, w.Code, http.StatusServiceUnavailable)
}

func TestMultiEditAndRun(t *testing.T) {
	s, lm := newTestServer(t, config.AuthConfig{})

	w := do(t, s, http.MethodPost, "/api/v1/pages", nil)
	assert.Equal(t, w.Code, http.StatusCreated)
	page := create(t, s, `{"type":"page","page":2}`)
	pageID := page.Component["id"].(string)
	static := create(t, s, `{"type":"richtext"}`)

	w = do(t, s, http.MethodPost, "/api/v1/multi/edit/new", map[string]any{
		"gui_name":   "Show",
		"components": []map[string]any{{"component": pageID, "startTime": 0, "endTime": 1}},
	})
	assert.Equal(t, w.Code, http.StatusCreated)
	var draft sequencer.Draft
	decode(t, w, &draft)
	assert.Equal(t, draft.Creating, true)
	assert.Equal(t, len(draft.Steps), 1)

	w = do(t, s, http.MethodPost, "/api/v1/multi/edit", map[string]string{"multi_id": draft.MultiID})
	assert.Equal(t, w.Code, http.StatusConflict)

	w = do(t, s, http.MethodPost, "/api/v1/multi/edit/members", map[string]any{"component": static.Component["id"]})
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = do(t, s, http.MethodPost, "/api/v1/projects/import", `{}`)
	assert.Equal(t, w.Code, http.StatusConflict)

	w = do(t, s, http.MethodPost, "/api/v1/multi/edit/commit", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	member, _ := lm.table.GetComponentByID(pageID)
	assert.Equal(t, member.Common().IsMulti, types.MultiTrue)

	w = do(t, s, http.MethodPost, "/api/v1/runs", map[string]string{"multi_id": draft.MultiID})
	assert.Equal(t, w.Code, http.StatusAccepted)
	var run struct {
		RunID string `json:"run_id"`
	}
	decode(t, w, &run)

	info, err := lm.seq.Wait(context.Background(), run.RunID)
	assert.Equal(t, err, nil)
	assert.Equal(t, info.Status, sequencer.RunCompleted)
	idx, _ := lm.table.CurrentPage()
	assert.Equal(t, idx, 1)

	w = do(t, s, http.MethodGet, "/api/v1/runs/"+run.RunID, nil)
	assert.Equal(t, w.Code, http.StatusOK)
	w = do(t, s, http.MethodGet, "/api/v1/runs/nope", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestProjectRoundTrip(t *testing.T) {
	s, lm := newTestServer(t, config.AuthConfig{})
	create(t, s, `{"type":"title","gui_name":"Welcome"}`)

	w := do(t, s, http.MethodPost, "/api/v1/projects/planetarium/save", nil)
	assert.Equal(t, w.Code, http.StatusOK)

	w = do(t, s, http.MethodGet, "/api/v1/projects/export?format=yaml&name=planetarium", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/yaml")
	exported := w.Body.Bytes()

	w = do(t, s, http.MethodDelete, "/api/v1/components/"+lm.table.List()[0].Common().ID, nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, len(lm.table.List()), 0)

	w = do(t, s, http.MethodPost, "/api/v1/projects/planetarium/load", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, len(lm.table.List()), 1)

	w = do(t, s, http.MethodPost, "/api/v1/projects/import?format=yaml", exported)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, lm.table.List()[0].Common().GuiName, "Welcome")

	w = do(t, s, http.MethodPost, "/api/v1/projects/import", `{"version":1,"pages":[],"components":{"x":{"type":"warp"}}}`)
	assert.Equal(t, w.Code >= 400, true)

	w = do(t, s, http.MethodGet, "/api/v1/projects", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, list.Count, 1)

	w = do(t, s, http.MethodPost, "/api/v1/projects/missing/load", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestPermissions(t *testing.T) {
	hash, err := auth.HashPassword("show")
	assert.Equal(t, err, nil)
	s, _ := newTestServer(t, config.AuthConfig{
		Enabled:               true,
		PresenterPasswordHash: hash,
		AccessTokenTTL:        time.Minute,
	})

	w := do(t, s, http.MethodGet, "/api/v1/components", nil)
	assert.Equal(t, w.Code, http.StatusUnauthorized)

	w = do(t, s, http.MethodPost, "/api/v1/auth/login", map[string]string{"password": "wrong"})
	assert.Equal(t, w.Code, http.StatusUnauthorized)

	w = do(t, s, http.MethodPost, "/api/v1/auth/login", map[string]string{"password": "show"})
	assert.Equal(t, w.Code, http.StatusOK)
	var login LoginResponse
	decode(t, w, &login)
	assert.Equal(t, login.Role, auth.RolePresenter)
	bearer := "Bearer " + login.AccessToken

	w = do(t, s, http.MethodGet, "/api/v1/components", nil, "Authorization", bearer)
	assert.Equal(t, w.Code, http.StatusOK)

	w = do(t, s, http.MethodPost, "/api/v1/components", `{"type":"title"}`, "Authorization", bearer)
	assert.Equal(t, w.Code, http.StatusForbidden)

	w = do(t, s, http.MethodPut, "/api/v1/pages/current", map[string]int{"index": 0}, "Authorization", bearer)
	assert.Equal(t, w.Code, http.StatusOK)
}
