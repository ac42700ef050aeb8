package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"entitlement-backend/config"
	"entitlement-backend/internal/model"
	"entitlement-backend/internal/mw"
	"entitlement-backend/internal/store"
	"entitlement-backend/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	db       *gorm.DB
	cfg      *config.Config
	router   *gin.Engine
	operator string
	customer *model.Customer
}

func newTestServer(t *testing.T, tweak func(*config.Config)) *testServer {
	t.Helper()

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Server.Location = time.UTC
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Tokens.MembershipSecret = "membership-secret"
	cfg.Tokens.DeviceTokenSecret = "device-secret"
	cfg.Tokens.OperatorSecret = "operator-secret"
	if tweak != nil {
		tweak(cfg)
	}

	gormDB := testutil.NewSQLite(t)
	st := store.NewGormStore(gormDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewServices(cfg, st, nil, logger)
	h := NewHandler(cfg, st, svc, nil, logger)

	op, err := mw.IssueOperatorToken(cfg.Tokens.OperatorSecret, cfg.Tokens.OperatorTokenIssuer, "alice", time.Hour, time.Now())
	require.NoError(t, err)

	today := time.Now().UTC()
	end := testutil.Date(today.Year(), today.Month(), today.Day()).AddDate(0, 0, 30)
	return &testServer{
		db:       gormDB,
		cfg:      cfg,
		router:   NewRouter(cfg, h),
		operator: op,
		customer: testutil.SeedCustomer(t, gormDB, "Acme Laundry", end),
	}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{"Authorization": "Bearer " + s.operator})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestCheckMembership(t *testing.T) {
	s := newTestServer(t, nil)
	testutil.SeedCode(t, s.db, s.customer.ID, "XN-CODE-01-AB12")

	t.Run("missing code", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/membership/check", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/membership/check", map[string]string{"pickupCode": "XN-NOPE-01-0000"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, false, body["valid"])
		assert.NotEmpty(t, body["message"])
		assert.NotContains(t, body, "signedToken")
	})

	t.Run("valid code is normalised and bound", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/membership/check",
			map[string]string{"pickupCode": "  xn-code-01-ab12 ", "deviceId": "dev-1"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "Acme Laundry", body["customerName"])
		assert.Equal(t, "normal", body["graceStatus"])
		assert.NotEmpty(t, body["signedToken"])

		var pc model.PickupCode
		require.NoError(t, s.db.First(&pc, "pickup_code = ?", "XN-CODE-01-AB12").Error)
		require.NotNil(t, pc.DeviceID)
		assert.Equal(t, "dev-1", *pc.DeviceID)

		v := s.do(http.MethodPost, "/api/membership/verify", map[string]string{"signedToken": body["signedToken"].(string)}, nil)
		require.Equal(t, http.StatusOK, v.Code)
		verified := decode(t, v)
		assert.Equal(t, true, verified["valid"])
		claims := verified["claims"].(map[string]any)
		assert.Equal(t, "XN-CODE-01-AB12", claims["pickupCode"])
	})
}

func TestVerifyToken_Tampered(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/membership/verify", map[string]string{"signedToken": "eyJhIjoxfQ.bad"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "invalid_signature", body["reason"])

	w = s.do(http.MethodPost, "/api/membership/verify", map[string]string{"signedToken": "no-dot"}, nil)
	assert.Equal(t, "malformed", decode(t, w)["reason"])
}

func TestHeartbeatDeliversEnqueuedCommands(t *testing.T) {
	s := newTestServer(t, nil)
	testutil.SeedCode(t, s.db, s.customer.ID, "XN-CODE-01-AB12")

	w := s.admin(http.MethodPost, "/api/admin/codes/xn-code-01-ab12/commands",
		map[string]any{"commandType": "message", "payload": map[string]string{"text": "hello"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.admin(http.MethodPost, "/api/admin/codes/XN-CODE-01-AB12/commands", map[string]any{"commandType": "reboot"})
	require.Equal(t, http.StatusCreated, w.Code)

	beat := map[string]any{
		"pickupCode":      "XN-CODE-01-AB12",
		"deviceId":        "dev-1",
		"deviceModel":     "Pixel 8",
		"appVersion":      "2.3.0",
		"lastPublishTime": time.Now().UnixMilli(),
		"monitorData":     map[string]int{"battery": 80},
	}
	w = s.do(http.MethodPost, "/api/membership/heartbeat", beat, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	cmds := body["commands"].([]any)
	require.Len(t, cmds, 2)
	first := cmds[0].(map[string]any)
	assert.Equal(t, "message", first["type"])
	assert.Equal(t, map[string]any{"text": "hello"}, first["payload"])
	assert.Equal(t, "reboot", cmds[1].(map[string]any)["type"])

	w = s.do(http.MethodPost, "/api/membership/heartbeat", beat, nil)
	assert.Empty(t, decode(t, w)["commands"])

	w = s.admin(http.MethodGet, "/api/admin/codes/XN-CODE-01-AB12/commands?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode(t, w)["commands"].([]any)
	require.Len(t, history, 2)
	for _, item := range history {
		assert.Equal(t, "sent", item.(map[string]any)["status"])
	}

	var logs int64
	require.NoError(t, s.db.Model(&model.AdminLog{}).Where("action = ?", "send_command").Count(&logs).Error)
	assert.EqualValues(t, 2, logs)
}

func TestHeartbeat_UnknownCode(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/membership/heartbeat", map[string]any{"pickupCode": "XN-NOPE-01-0000"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	assert.Empty(t, body["commands"])
}

func TestEnqueueCommand_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	testutil.SeedCode(t, s.db, s.customer.ID, "XN-CODE-01-AB12")

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"unknown type", "/api/admin/codes/XN-CODE-01-AB12/commands", map[string]any{"commandType": "format_disk"}, http.StatusBadRequest},
		{"message without text", "/api/admin/codes/XN-CODE-01-AB12/commands", map[string]any{"commandType": "message"}, http.StatusBadRequest},
		{"unknown code", "/api/admin/codes/XN-NOPE-01-0000/commands", map[string]any{"commandType": "reboot"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.admin(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminRoutesRequireOperatorToken(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/admin/reports", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/admin/reports", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func registerDevice(t *testing.T, s *testServer, deviceID string) string {
	t.Helper()
	w := s.do(http.MethodPost, "/api/device/register",
		map[string]any{"deviceId": deviceID, "deviceInfo": map[string]string{"model": "Pixel 8"}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "365d", body["expiresIn"])
	return body["token"].(string)
}

func TestRegisterDevice_Idempotent(t *testing.T) {
	s := newTestServer(t, nil)

	first := registerDevice(t, s, "dev-1")
	second := registerDevice(t, s, "dev-1")
	assert.Equal(t, first, second)

	w := s.do(http.MethodPost, "/api/device/register", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitReport(t *testing.T) {
	s := newTestServer(t, nil)
	tok := registerDevice(t, s, "dev-1")
	headers := func(requestID string) map[string]string {
		return map[string]string{
			"Authorization": "Bearer " + tok,
			"X-Device-Id":   "dev-1",
			"X-Request-Id":  requestID,
		}
	}
	body := map[string]any{
		"platform":  "xianyu",
		"step":      "publish",
		"errorMsg":  "button not found",
		"timestamp": time.Now().UnixMilli(),
	}

	w := s.do(http.MethodPost, "/api/device/report", body, headers("req-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["success"])

	w = s.do(http.MethodPost, "/api/device/report", body, headers("req-1"))
	require.Equal(t, http.StatusOK, w.Code)
	dup := decode(t, w)
	assert.Equal(t, true, dup["success"])
	assert.Equal(t, true, dup["duplicate"])

	stale := map[string]any{"platform": "xianyu", "timestamp": time.Now().Add(-time.Hour).UnixMilli()}
	w = s.do(http.MethodPost, "/api/device/report", stale, headers("req-2"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "stale_timestamp", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/api/device/report", body, map[string]string{"X-Request-Id": "req-3"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	mismatch := headers("req-4")
	mismatch["X-Device-Id"] = "dev-2"
	w = s.do(http.MethodPost, "/api/device/report", body, mismatch)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/device/report", body, headers(""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_request_id", decode(t, w)["error"])

	w = s.admin(http.MethodGet, "/api/admin/reports?deviceId=dev-1&limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	assert.EqualValues(t, 2, list["total"])
	assert.EqualValues(t, 100, list["limit"])
	reports := list["reports"].([]any)
	require.Len(t, reports, 2)
	statuses := []string{reports[0].(map[string]any)["status"].(string), reports[1].(map[string]any)["status"].(string)}
	assert.ElementsMatch(t, []string{"accepted", "rejected"}, statuses)
}

func TestSubmitReport_DuplicateConflict(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Reports.DuplicateConflict = true })
	tok := registerDevice(t, s, "dev-1")
	headers := map[string]string{"Authorization": "Bearer " + tok, "X-Request-Id": "req-1"}

	w := s.do(http.MethodPost, "/api/device/report", map[string]any{"platform": "xianyu"}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/api/device/report", map[string]any{"platform": "xianyu"}, headers)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSubmitReport_RateLimited(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Reports.HourlyLimit = 2 })
	tok := registerDevice(t, s, "dev-1")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, "/api/device/report", map[string]any{"platform": "xianyu"},
			map[string]string{"Authorization": "Bearer " + tok, "X-Request-Id": fmt.Sprintf("req-%d", i)})
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCodeLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.admin(http.MethodPost, fmt.Sprintf("/api/admin/customers/%d/codes", s.customer.ID),
		map[string]any{"count": 2, "prefix": "shop"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	raw := decode(t, w)["codes"].([]any)
	require.Len(t, raw, 2)
	code := raw[0].(string)
	assert.True(t, strings.HasPrefix(code, "XN-SHOP-01-"), code)
	assert.True(t, strings.HasPrefix(raw[1].(string), "XN-SHOP-02-"))

	w = s.admin(http.MethodPost, "/api/admin/customers/9999/codes", map[string]any{"count": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.admin(http.MethodPost, fmt.Sprintf("/api/admin/customers/%d/codes", s.customer.ID), map[string]any{"count": 9})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/membership/heartbeat", map[string]any{"pickupCode": code, "deviceId": "dev-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/customer/status?code="+strings.ToLower(code), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, "Acme Laundry", status["customerName"])
	devices := status["devices"].([]any)
	require.Len(t, devices, 2)
	online := 0
	for _, d := range devices {
		if d.(map[string]any)["isOnline"] == true {
			online++
		}
	}
	assert.Equal(t, 1, online)

	w = s.do(http.MethodGet, "/api/customer/status?code=XN-NOPE-01-0000", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.admin(http.MethodPut, "/api/admin/codes/"+code, map[string]any{"deviceAlias": "front desk", "isActive": false})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode(t, w)
	assert.Equal(t, "front desk", updated["deviceAlias"])
	assert.Equal(t, false, updated["isActive"])

	w = s.do(http.MethodPost, "/api/membership/check", map[string]string{"pickupCode": code}, nil)
	assert.Equal(t, false, decode(t, w)["valid"])

	w = s.admin(http.MethodPost, "/api/admin/codes/"+code+"/unbind", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.admin(http.MethodGet, "/api/admin/codes/"+code, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	assert.Nil(t, detail["code"].(map[string]any)["deviceId"])

	w = s.admin(http.MethodGet, "/api/admin/codes/XN-NOPE-01-0000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptions(t *testing.T) {
	s := newTestServer(t, nil)
	const endpoint = "https://push.example.com/send/abc"

	w := s.admin(http.MethodPut, "/api/admin/subscriptions", map[string]string{"endpoint": endpoint})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	w = s.admin(http.MethodPut, "/api/admin/subscriptions", map[string]string{"endpoint": endpoint, "p256dh": "key", "auth": "secret"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.admin(http.MethodGet, "/api/admin/subscriptions?endpoint="+endpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode(t, w)["operator"])

	w = s.admin(http.MethodDelete, "/api/admin/subscriptions", map[string]string{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.admin(http.MethodGet, "/api/admin/subscriptions?endpoint="+endpoint, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPushKey(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/api/vapid_public_key", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":false}`, w.Body.String())

	cfg, err := config.Default()
	require.NoError(t, err)
	st := store.NewGormStore(s.db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(cfg, st, NewServices(cfg, st, nil, logger), &webpush.Options{VAPIDPublicKey: "BPub"}, logger)
	r := gin.New()
	r.GET("/key", h.PushKey)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/key", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":true,"publicKey":"BPub"}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestHeartbeat_LastPublishTimeFormats(t *testing.T) {
	s := newTestServer(t, nil)
	testutil.SeedCode(t, s.db, s.customer.ID, "XN-ACME-01-AB12")

	tests := []struct {
		name string
		raw  string
		want *time.Time
	}{
		{"iso string", `"2026-03-01T12:00:00.000Z"`, ptrTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))},
		{"epoch millis", `1772366400000`, ptrTime(time.UnixMilli(1772366400000))},
		{"unparseable string", `"yesterday"`, nil},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.db.Model(&model.PickupCode{}).
				Where("pickup_code = ?", "XN-ACME-01-AB12").
				Update("last_publish_time", gorm.Expr("NULL")).Error)

			body := `{"pickupCode":"XN-ACME-01-AB12","deviceId":"dev-1","lastPublishTime":` + tt.raw + `}`
			req := httptest.NewRequest(http.MethodPost, "/api/membership/heartbeat", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decode(t, w)
			assert.Equal(t, true, resp["ok"])
			_, err := time.Parse(time.RFC3339Nano, resp["serverTime"].(string))
			assert.NoError(t, err)

			var pc model.PickupCode
			require.NoError(t, s.db.First(&pc, "pickup_code = ?", "XN-ACME-01-AB12").Error)
			require.NotNil(t, pc.LastHeartbeat)
			if tt.want == nil {
				assert.Nil(t, pc.LastPublishTime)
				return
			}
			require.NotNil(t, pc.LastPublishTime)
			assert.True(t, tt.want.Equal(*pc.LastPublishTime), "got %v", pc.LastPublishTime)
		})
	}
}

func TestHeartbeat_MissingCode(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/membership/heartbeat", map[string]any{"deviceId": "dev-1", "lastPublishTime": "2026-03-01T12:00:00Z"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "pickupCode is required", decode(t, w)["error"])
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
