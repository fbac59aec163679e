package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "github.com/om-surushe/SMTP-Server/internal/auth/jwt"
	"github.com/om-surushe/SMTP-Server/internal/config"
	"github.com/om-surushe/SMTP-Server/internal/domain"
	"github.com/om-surushe/SMTP-Server/internal/health"
	"github.com/om-surushe/SMTP-Server/internal/pool"
	"github.com/om-surushe/SMTP-Server/internal/service"
	"github.com/om-surushe/SMTP-Server/internal/status"
)

type recordingForwarder struct {
	mu   sync.Mutex
	err  error
	msgs []*domain.ParsedMessage
}

func (f *recordingForwarder) Forward(_ context.Context, msg *domain.ParsedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

type testGateway struct {
	router *gin.Engine
	mailer *service.MailerService
	store  *status.Store
}

func newTestRouter(t *testing.T, jwtManager *jwtpkg.Manager, forwarder service.Forwarder) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if forwarder == nil {
		forwarder = &recordingForwarder{}
	}

	store := status.NewStore("gateway.test")
	p := pool.NewWorkerPool(1, 8, zap.NewNop())
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	mailer := service.NewMailerService(forwarder, store, p, nil, zap.NewNop(), 5*time.Second)

	cfg := &config.Config{}
	cfg.SMTP.MaxMessageSize = 25 << 20
	cfg.CORS.AllowedOrigins = []string{"*"}

	router := NewRouter(RouterDependencies{
		Config:     cfg,
		Mailer:     mailer,
		JWTManager: jwtManager,
		Health:     health.NewChecker("127.0.0.1:2525"),
		Logger:     zap.NewNop(),
	})
	return &testGateway{router: router, mailer: mailer, store: store}
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_SubmitEmailAccepted(t *testing.T) {
	gw := newTestRouter(t, nil, nil)

	body := `{"from":"alice@example.com","to":["bob@example.org"],"subject":"Hi","text":"hello"}`
	w := doJSON(t, gw.router, http.MethodPost, "/api/emails", body, nil)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeAccepted, resp.Code)

	data := resp.Data.(map[string]interface{})
	id := data["id"].(string)
	assert.Contains(t, id, "@gateway.test")

	// 异步投递最终到达终态
	require.Eventually(t, func() bool {
		entry, err := gw.store.Get(id)
		return err == nil && entry.State.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_SubmitEmailValidation(t *testing.T) {
	gw := newTestRouter(t, nil, nil)

	t.Run("缺少发件人", func(t *testing.T) {
		w := doJSON(t, gw.router, http.MethodPost, "/api/emails", `{"to":["bob@example.org"]}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("缺少收件人", func(t *testing.T) {
		w := doJSON(t, gw.router, http.MethodPost, "/api/emails", `{"from":"alice@example.com"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("非法 JSON", func(t *testing.T) {
		w := doJSON(t, gw.router, http.MethodPost, "/api/emails", `{not json`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRouter_GetEmailStatus(t *testing.T) {
	gw := newTestRouter(t, nil, nil)

	entry := gw.store.Create([]string{"bob@example.org"}, "查询")

	w := doJSON(t, gw.router, http.MethodGet, "/api/emails/"+entry.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, entry.ID, data["messageId"])
	assert.Equal(t, string(domain.StateQueued), data["state"])
}

func TestRouter_GetEmailStatusNotFound(t *testing.T) {
	gw := newTestRouter(t, nil, nil)

	w := doJSON(t, gw.router, http.MethodGet, "/api/emails/missing@gateway.test", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_GatewayStatusOverview(t *testing.T) {
	forwarder := &recordingForwarder{err: errors.New("relay down")}
	gw := newTestRouter(t, nil, forwarder)

	id, err := gw.mailer.Submit(service.SubmitInput{
		From: "alice@example.com",
		To:   []string{"bob@example.org"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, err := gw.store.Get(id)
		return err == nil && entry.State == domain.StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	w := doJSON(t, gw.router, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])

	states := data["states"].(map[string]interface{})
	assert.Equal(t, float64(1), states[string(domain.StateFailed)])
}

func TestRouter_JWTProtection(t *testing.T) {
	manager := jwtpkg.NewManager("0123456789abcdef0123456789abcdef", "smtp-gateway", time.Hour)
	gw := newTestRouter(t, manager, nil)

	t.Run("无 token 拒绝", func(t *testing.T) {
		w := doJSON(t, gw.router, http.MethodGet, "/api/status", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("伪造 token 拒绝", func(t *testing.T) {
		w := doJSON(t, gw.router, http.MethodGet, "/api/status", "", map[string]string{
			"Authorization": "Bearer not-a-token",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("合法 token 放行", func(t *testing.T) {
		token, err := manager.GenerateToken("api-client", "ops@example.com", 0)
		require.NoError(t, err)

		w := doJSON(t, gw.router, http.MethodGet, "/api/status", "", map[string]string{
			"Authorization": "Bearer " + token,
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRouter_HealthEndpoint(t *testing.T) {
	gw := newTestRouter(t, nil, nil)

	w := doJSON(t, gw.router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}
