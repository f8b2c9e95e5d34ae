package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hewenyu/relay-fleet/internal/conntrack"
	"github.com/hewenyu/relay-fleet/internal/health"
	"github.com/hewenyu/relay-fleet/internal/strategy"
	"github.com/hewenyu/relay-fleet/internal/window"
	"github.com/hewenyu/relay-fleet/pkg/model"
	"github.com/hewenyu/relay-fleet/pkg/registry/memory"
)

// nopLogger 测试用空日志实现
type nopLogger struct{}

func (nopLogger) Debug(string, ...zapcore.Field) {}
func (nopLogger) Info(string, ...zapcore.Field)  {}
func (nopLogger) Warn(string, ...zapcore.Field)  {}
func (nopLogger) Error(string, ...zapcore.Field) {}
func (nopLogger) Fatal(string, ...zapcore.Field) {}

// testEnv 组装一套完整的内存后端测试环境
type testEnv struct {
	e       *echo.Echo
	reg     *memory.MemoryRegistry
	store   *window.Store
	tracker *conntrack.Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := memory.NewMemoryRegistry()
	store := window.NewStore(20, 0)
	tracker := conntrack.NewTracker(time.Hour)
	classifier := health.NewClassifier(health.DefaultThresholds())
	aggregator := health.NewAggregator(reg, store, classifier, tracker, nopLogger{})
	engine := strategy.NewEngine(reg, store, classifier, tracker, nopLogger{}, nil, 1)

	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	NewPerformanceHandler(aggregator, engine, nopLogger{}).WithTracker(tracker).RegisterRoutes(e)
	NewGroupHandler(reg, nopLogger{}).RegisterRoutes(e)
	NewHostHandler(reg, nopLogger{}).RegisterRoutes(e)

	return &testEnv{e: e, reg: reg, store: store, tracker: tracker}
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) addNode(t *testing.T, id int, status model.NodeStatus) {
	t.Helper()
	require.NoError(t, env.reg.PutNode(context.Background(), &model.Node{
		ID:      id,
		Name:    "node",
		Address: "10.0.0.1",
		APIPort: 62050,
		Status:  status,
	}))
}

func (env *testEnv) recordSuccess(t *testing.T, nodeID, count int) {
	t.Helper()
	base := time.Now().Add(-time.Minute)
	for i := 0; i < count; i++ {
		require.NoError(t, env.store.Record(model.MetricSample{
			NodeID:       nodeID,
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			ResponseTime: 25,
			Success:      true,
		}))
	}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGetOverviewEmptyFleet(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, data["total_nodes"])
	assert.Nil(t, data["avg_success_rate"], "空集群的平均成功率应为null")
}

func TestGetNodePerformanceInvalidGroupID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/node-performance?group_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNodePerformanceUnknownGroup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/node-performance?group_id=404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectNodeEmptyGroup(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.reg.PutGroup(context.Background(), &model.ResilientNodeGroup{
		ID: 1, Name: "empty",
	}))

	rec := env.do(http.MethodPost, "/api/groups/1/select", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSelectNodeTracksConnection(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)
	env.recordSuccess(t, 1, 5)
	require.NoError(t, env.reg.PutGroup(context.Background(), &model.ResilientNodeGroup{
		ID: 1, Name: "g", NodeIDs: []int{1},
	}))

	rec := env.do(http.MethodPost, "/api/groups/1/select", `{"client_context":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, data["node_id"])
	assert.Equal(t, "10.0.0.1", data["address"])

	// 选择成功后应记一笔连接
	assert.Equal(t, 1, env.tracker.ActiveConnections(1))
}

func TestCreateGroup(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)
	env.addNode(t, 2, model.NodeStatusConnected)

	rec := env.do(http.MethodPost, "/api/resilient-node-groups",
		`{"name":"edge","node_ids":[1,2],"client_strategy_hint":"url-test"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	group, err := env.reg.GetGroup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "edge", group.Name)
	assert.Equal(t, []int{1, 2}, group.NodeIDs)
	assert.Equal(t, model.HintURLTest, group.ClientStrategyHint)
}

func TestCreateGroupDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)

	rec := env.do(http.MethodPost, "/api/resilient-node-groups", `{"name":"edge","node_ids":[1]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/resilient-node-groups", `{"name":"edge","node_ids":[1]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateGroupEmptyMembers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/resilient-node-groups", `{"name":"edge","node_ids":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateGroupUnknownMember(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/resilient-node-groups", `{"name":"edge","node_ids":[99]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGroupDuplicateMemberRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)

	rec := env.do(http.MethodPost, "/api/resilient-node-groups", `{"name":"edge","node_ids":[1,1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGroupUnknownHintStoredAsUnset(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)

	rec := env.do(http.MethodPost, "/api/resilient-node-groups",
		`{"name":"edge","node_ids":[1],"client_strategy_hint":"speed-first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	group, err := env.reg.GetGroup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.HintUnset, group.ClientStrategyHint, "未识别的策略提示应按未设置存储")
}

func TestUpdateGroupNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/resilient-node-groups/7", `{"name":"edge","node_ids":[1]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteGroup(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)
	require.NoError(t, env.reg.PutGroup(context.Background(), &model.ResilientNodeGroup{
		ID: 1, Name: "edge", NodeIDs: []int{1},
	}))

	rec := env.do(http.MethodDelete, "/api/resilient-node-groups/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodDelete, "/api/resilient-node-groups/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateHost(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)
	require.NoError(t, env.reg.PutGroup(context.Background(), &model.ResilientNodeGroup{
		ID: 1, Name: "edge", NodeIDs: []int{1},
	}))

	rec := env.do(http.MethodPost, "/api/load-balancer-hosts",
		`{"name":"relay.example.com","group_id":1,"strategy":"random","sni":"cdn.example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	host, err := env.reg.GetHostByName(context.Background(), "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StrategyRandom, host.Strategy)
	assert.Equal(t, "cdn.example.com", host.SNI)
	assert.NotEmpty(t, host.SubscriptionToken, "创建主机时应生成订阅令牌")
}

func TestCreateHostDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)
	require.NoError(t, env.reg.PutGroup(context.Background(), &model.ResilientNodeGroup{
		ID: 1, Name: "edge", NodeIDs: []int{1},
	}))

	rec := env.do(http.MethodPost, "/api/load-balancer-hosts", `{"name":"relay.example.com","group_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/load-balancer-hosts", `{"name":"relay.example.com","group_id":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateHostUnknownGroup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/load-balancer-hosts", `{"name":"relay.example.com","group_id":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateHostKeepsToken(t *testing.T) {
	env := newTestEnv(t)
	env.addNode(t, 1, model.NodeStatusConnected)
	require.NoError(t, env.reg.PutGroup(context.Background(), &model.ResilientNodeGroup{
		ID: 1, Name: "edge", NodeIDs: []int{1},
	}))

	rec := env.do(http.MethodPost, "/api/load-balancer-hosts", `{"name":"relay.example.com","group_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	created, err := env.reg.GetHostByName(context.Background(), "relay.example.com")
	require.NoError(t, err)

	rec = env.do(http.MethodPut, "/api/load-balancer-hosts/1",
		`{"name":"relay2.example.com","group_id":1,"strategy":"random"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := env.reg.GetHostByName(context.Background(), "relay2.example.com")
	require.NoError(t, err)
	assert.Equal(t, created.SubscriptionToken, updated.SubscriptionToken, "更新不应重新生成订阅令牌")
}
