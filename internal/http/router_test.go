package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	httpH "github.com/stagehand-app/stagehand-backend/internal/http/handlers"
	httpMW "github.com/stagehand-app/stagehand-backend/internal/http/middleware"
	"github.com/stagehand-app/stagehand-backend/internal/platform/ctxutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/services"
)

type fakeAuth struct {
	device   *types.Device
	secret   string
	token    string
	pairErr  error
	tokenErr error
}

func (f *fakeAuth) PairDevice(_ context.Context, _, _ string) (*types.Device, string, string, error) {
	if f.pairErr != nil {
		return nil, "", "", f.pairErr
	}
	return f.device, f.secret, f.token, nil
}

func (f *fakeAuth) Token(_ context.Context, _ uuid.UUID, _ string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return f.token, nil
}

func (f *fakeAuth) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString != f.token {
		return ctx, services.ErrInvalidToken
	}
	return ctxutil.WithIdentity(ctx, &ctxutil.Identity{
		DeviceID:    f.device.ID,
		DeviceName:  f.device.Name,
		TokenString: tokenString,
	}), nil
}

func (f *fakeAuth) GetAccessTTL() time.Duration { return 12 * time.Hour }

type fakeSnapshots struct {
	snap *types.ContextSnapshot
	list []*types.ContextSnapshot
	err  error
}

func (f *fakeSnapshots) Ingest(_ context.Context, deviceID uuid.UUID, _ *services.SnapshotInput) (*types.ContextSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.snap.DeviceID = deviceID
	return f.snap, nil
}

func (f *fakeSnapshots) Get(_ context.Context, _ uuid.UUID) (*types.ContextSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeSnapshots) ListForDevice(_ context.Context, _ uuid.UUID, _ int) ([]*types.ContextSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

type fakePipeline struct {
	mu        sync.Mutex
	triggered []uuid.UUID
	status    *services.PipelineStatus
	ranking   *services.RankingView
	reopened  int
	err       error
}

func (f *fakePipeline) Trigger(_ context.Context, snapshotID uuid.UUID) (*services.PipelineStatus, error) {
	f.mu.Lock()
	f.triggered = append(f.triggered, snapshotID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakePipeline) Status(_ context.Context, _ uuid.UUID) (*services.PipelineStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakePipeline) Retry(_ context.Context, _ uuid.UUID) (int, *services.PipelineStatus, error) {
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.reopened, f.status, nil
}

func (f *fakePipeline) Ranking(_ context.Context, _ uuid.UUID) (*services.RankingView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ranking, nil
}

type routerFixture struct {
	router *gin.Engine
	auth   *fakeAuth
	snaps  *fakeSnapshots
	pipe   *fakePipeline
	snapID uuid.UUID
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(log.Sync)

	snapID := uuid.New()
	auth := &fakeAuth{
		device: &types.Device{ID: uuid.New(), Name: "dash unit"},
		secret: "plain-device-secret",
		token:  "good-token",
	}
	snaps := &fakeSnapshots{
		snap: &types.ContextSnapshot{ID: snapID, Lat: 30.27, Lng: -97.74, TimeZone: "America/Chicago"},
	}
	pipe := &fakePipeline{
		status: &services.PipelineStatus{
			SnapshotID: snapID,
			State:      services.PipelineStateInProgress,
		},
		reopened: 2,
	}

	router := NewRouter(RouterConfig{
		Log:             log,
		AuthHandler:     httpH.NewAuthHandler(log, auth),
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, auth),
		SnapshotHandler: httpH.NewSnapshotHandler(log, snaps, pipe),
		PipelineHandler: httpH.NewPipelineHandler(log, pipe),
		HealthHandler:   httpH.NewHealthHandler(log, nil, nil),
	})
	return &routerFixture{router: router, auth: auth, snaps: snaps, pipe: pipe, snapID: snapID}
}

func (fx *routerFixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	env, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %q", rec.Body.String())
	}
	code, _ := env["code"].(string)
	return code
}

func TestPairEndpoint(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/auth/pair", "", gin.H{
		"pairing_code": "code",
		"device_name":  "dash unit",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("pair status: got=%d want=%d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["device_secret"] != "plain-device-secret" {
		t.Fatalf("missing device_secret in %v", body)
	}
	if body["access_token"] != "good-token" {
		t.Fatalf("missing access_token in %v", body)
	}
	if int(body["expires_in"].(float64)) != int((12 * time.Hour).Seconds()) {
		t.Fatalf("unexpected expires_in: %v", body["expires_in"])
	}
}

func TestPairEndpointRejectsBadCode(t *testing.T) {
	fx := newRouterFixture(t)
	fx.auth.pairErr = services.ErrPairingCodeInvalid

	rec := fx.do(t, http.MethodPost, "/api/auth/pair", "", gin.H{"pairing_code": "nope", "device_name": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("pair status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
	if code := errorCode(t, rec); code != "invalid_pairing_code" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestTokenEndpointRejectsBadCredentials(t *testing.T) {
	fx := newRouterFixture(t)
	fx.auth.tokenErr = services.ErrInvalidCredentials

	rec := fx.do(t, http.MethodPost, "/api/auth/token", "", gin.H{
		"device_id":     uuid.New(),
		"device_secret": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
	if code := errorCode(t, rec); code != "invalid_credentials" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/snapshots", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}

	rec = fx.do(t, http.MethodGet, "/api/snapshots", "bogus", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
}

func TestQueryTokenAuthenticates(t *testing.T) {
	fx := newRouterFixture(t)
	fx.snaps.list = []*types.ContextSnapshot{fx.snaps.snap}

	// EventSource-style auth: token in the query string, no header.
	rec := fx.do(t, http.MethodGet, "/api/snapshots?token=good-token", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestSnapshotIngestWithRun(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/snapshots", "good-token", gin.H{
		"lat":       30.27,
		"lng":       -97.74,
		"time_zone": "America/Chicago",
		"run":       true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status: got=%d want=%d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if _, ok := body["snapshot"]; !ok {
		t.Fatalf("missing snapshot in %v", body)
	}
	if _, ok := body["status"]; !ok {
		t.Fatalf("run:true should attach pipeline status, got %v", body)
	}
	if len(fx.pipe.triggered) != 1 || fx.pipe.triggered[0] != fx.snapID {
		t.Fatalf("expected one trigger for %s, got %v", fx.snapID, fx.pipe.triggered)
	}
}

func TestSnapshotIngestWithoutRunDoesNotTrigger(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/snapshots", "good-token", gin.H{
		"lat":       30.27,
		"lng":       -97.74,
		"time_zone": "America/Chicago",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest status: got=%d want=%d", rec.Code, http.StatusCreated)
	}
	body := decodeBody(t, rec)
	if _, ok := body["status"]; ok {
		t.Fatalf("unexpected pipeline status without run flag: %v", body)
	}
	if len(fx.pipe.triggered) != 0 {
		t.Fatalf("unexpected trigger calls: %v", fx.pipe.triggered)
	}
}

func TestPipelineTriggerAccepted(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/pipeline/"+fx.snapID.String(), "good-token", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger status: got=%d want=%d", rec.Code, http.StatusAccepted)
	}
	body := decodeBody(t, rec)
	if body["state"] != services.PipelineStateInProgress {
		t.Fatalf("unexpected state %v", body["state"])
	}
}

func TestPipelineUnknownSnapshotIs404(t *testing.T) {
	fx := newRouterFixture(t)
	fx.pipe.err = services.ErrSnapshotNotFound

	rec := fx.do(t, http.MethodGet, "/api/pipeline/"+uuid.NewString()+"/status", "good-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
	if code := errorCode(t, rec); code != "not_found" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestPipelineBadSnapshotIDIs400(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/pipeline/not-a-uuid/status", "good-token", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestPipelineRetryReportsReopened(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/pipeline/"+fx.snapID.String()+"/retry", "good-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if int(body["reopened"].(float64)) != 2 {
		t.Fatalf("unexpected reopened count: %v", body["reopened"])
	}
}

func TestRankingNotReadyIs404(t *testing.T) {
	fx := newRouterFixture(t)
	fx.pipe.err = services.ErrRankingNotReady

	rec := fx.do(t, http.MethodGet, "/api/snapshots/"+fx.snapID.String()+"/ranking", "good-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ranking status: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
	if code := errorCode(t, rec); code != "ranking_not_ready" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: got=%d want=%d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got=%d want=%d", rec.Code, http.StatusOK)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("stagehand_")) {
		t.Fatalf("expected stagehand metrics in exposition, got %d bytes", rec.Body.Len())
	}
}
