package internal_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fraud_scorer/internal/advisory"
	"fraud_scorer/internal/api"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/processor"
	"fraud_scorer/internal/repository/memory"
	"fraud_scorer/internal/service"
	"fraud_scorer/pkg/crypto"
	"fraud_scorer/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shellGasEvent = `{
	"event_id": "evt_test_001",
	"ts": "2025-01-15T14:54:34.967Z",
	"card_number": "4111111111113565",
	"merchant_name": "Shell Gas",
	"category": "Gas",
	"amount": 361.23,
	"currency": "USD",
	"city": "Los Angeles",
	"state": "PA",
	"status": "approved"
}`

type maxJitter struct{}

func (maxJitter) Float64() float64 { return 1 }

type testEnv struct {
	verdicts *memory.VerdictRepository
	hub      *service.Hub
	insights *service.InsightService
	signer   *crypto.Signer
	mux      *http.ServeMux
}

func setup(t *testing.T, advisoryURL string) *testEnv {
	t.Helper()

	advisor := advisory.NewHTTPAdvisor(advisory.Config{Endpoint: advisoryURL, BearerToken: "tok"}, nil)
	pipeline := processor.NewScoringPipeline(
		processor.NewVelocityTracker(memory.NewVelocityStore(), 0, 0, nil),
		processor.NewRuleEvaluator(),
		processor.NewHeuristicScorer(advisor, maxJitter{}, 200*time.Millisecond, nil),
		processor.NewBlender(processor.DefaultPolicy()),
		metrics.NewMetricsCollector(nil),
		nil,
	)

	verdicts := memory.NewVerdictRepository()
	hub := service.NewHub(10, nil)
	insights := service.NewInsightService([]service.InsightSink{hub}, 2, 100, nil)
	t.Cleanup(func() { _ = insights.Shutdown(context.Background()) })

	signer := crypto.NewSigner("test-secret", nil)
	handler := api.NewAPIHandler(
		service.NewScoringService(pipeline, verdicts, insights, nil),
		verdicts,
		hub,
		advisor,
		api.Settings{
			ServiceName:     "fraud-scorer",
			VelocityWindow:  pipeline.VelocityWindow(),
			IdleTTL:         processor.DefaultIdleTTL,
			Policy:          pipeline.Policy(),
			VelocityBackend: "memory",
			VerdictBackend:  "memory",
			AdvisoryTimeout: 200 * time.Millisecond,
		},
		signer,
		nil,
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &testEnv{verdicts: verdicts, hub: hub, insights: insights, signer: signer, mux: mux}
}

func analyze(t *testing.T, env *testEnv, body string) (*httptest.ResponseRecorder, api.AnalyzeResponse) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	env.mux.ServeHTTP(w, r)

	var resp api.AnalyzeResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestIntegration_AnalyzeShellGas(t *testing.T) {
	env := setup(t, "")

	w, resp := analyze(t, env, shellGasEvent)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "evt_test_001", resp.EventID)
	assert.Equal(t, domain.LabelLikelyFraud, resp.Risk)
	assert.InDelta(t, 0.61, resp.Score, 1e-9)
	assert.Equal(t, 0.75, resp.RuleScore)
	assert.True(t, resp.Flags["geo_invalid"])
	assert.True(t, resp.Flags["amount_high"])
	assert.False(t, resp.Flags["category_mismatch"])
	assert.Equal(t, "Gas", resp.ExpectedCategory)
	assert.False(t, resp.AdvisoryUsed)

	sig := w.Header().Get(crypto.SignatureHeader)
	assert.NoError(t, env.signer.Verify(w.Body.Bytes(), sig))
	assert.Equal(t, env.signer.SignVerdict("evt_test_001", "LIKELY_FRAUD", 0.61), w.Header().Get(crypto.VerdictSignatureHeader))

	stored, err := env.verdicts.GetByEventID(context.Background(), "evt_test_001")
	require.NoError(t, err)
	assert.Equal(t, "3565", stored.Fingerprint)
}

func TestIntegration_AnalyzeUsesAdvisory(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/advise":
			_ = json.NewEncoder(w).Encode(domain.Advice{Score: 0.9, Explanation: "model: suspicious geo"})
		case "/health":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer model.Close()
	env := setup(t, model.URL)

	_, resp := analyze(t, env, shellGasEvent)

	assert.True(t, resp.AdvisoryUsed)
	assert.Equal(t, 0.9, resp.HeuristicScore)
	// 0.6*0.75 + 0.4*0.9
	assert.InDelta(t, 0.81, resp.Score, 1e-9)
	assert.Equal(t, "model: suspicious geo", resp.Explanation)
}

func TestIntegration_AdvisoryDownFallsBack(t *testing.T) {
	var calls atomic.Int32
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer model.Close()
	env := setup(t, model.URL)

	w, resp := analyze(t, env, shellGasEvent)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, resp.AdvisoryUsed)
	assert.False(t, resp.Degraded)
	assert.Equal(t, domain.LabelLikelyFraud, resp.Risk)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIntegration_VelocityBurstAcrossRequests(t *testing.T) {
	env := setup(t, "")

	var last api.AnalyzeResponse
	for i, ts := range []string{"2025-01-15T12:00:00.000Z", "2025-01-15T12:00:00.600Z", "2025-01-15T12:00:01.200Z"} {
		body := `{"card_number":"5500000000004444","merchant_name":"Corner Bakery","category":"Dining","amount":12,"ts":"` + ts + `"}`
		_, last = analyze(t, env, body)
		if i < 2 {
			assert.False(t, last.Flags["velocity_burst"], "event %d", i+1)
		}
	}

	assert.True(t, last.Flags["velocity_burst"])
	assert.Equal(t, 0.30, last.RuleScore)
}

func TestIntegration_AnalyzeRejectsNonJSON(t *testing.T) {
	env := setup(t, "")

	for _, body := range []string{"", "not json", "[]"} {
		w, _ := analyze(t, env, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestIntegration_AnalyzeEmptyObjectDefaults(t *testing.T) {
	env := setup(t, "")

	w, resp := analyze(t, env, `{}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp.EventID)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 0.0, resp.RuleScore)
}

func TestIntegration_GetVerdict(t *testing.T) {
	env := setup(t, "")
	analyze(t, env, shellGasEvent)

	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/verdicts?id=evt_test_001", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got domain.Verdict
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, domain.LabelLikelyFraud, got.Label)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/verdicts?id=missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/verdicts?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list api.VerdictListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list.Verdicts, 1)
	assert.Equal(t, 1, list.Counts[domain.LabelLikelyFraud])
}

func TestIntegration_HealthAndConfig(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer model.Close()
	env := setup(t, model.URL)

	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.AdvisoryConfigured)
	assert.True(t, health.AdvisoryReachable)
	assert.Equal(t, model.URL, health.AdvisoryEndpoint)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	var cfg api.ConfigResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&cfg))
	assert.Equal(t, int64(2000), cfg.VelocityWindowMS)
	assert.Equal(t, 0.60, cfg.Policy.FraudThreshold)
	assert.Equal(t, "memory", cfg.VelocityBackend)
}

func TestIntegration_StreamSendsRecentThenLive(t *testing.T) {
	env := setup(t, "")
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	analyze(t, env, shellGasEvent)
	require.Eventually(t, func() bool { return len(env.hub.Recent()) == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/ws", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan domain.Insight, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var insight domain.Insight
				if json.Unmarshal([]byte(data), &insight) == nil {
					events <- insight
				}
			}
		}
	}()

	first := <-events
	assert.Equal(t, "evt_test_001", first.EventID)
	assert.Equal(t, domain.LabelLikelyFraud, first.Risk)

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	analyze(t, env, strings.Replace(shellGasEvent, "evt_test_001", "evt_test_002", 1))

	select {
	case live := <-events:
		assert.Equal(t, "evt_test_002", live.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected live insight")
	}
}

func TestIntegration_ShutdownEndsOpenStreams(t *testing.T) {
	env := setup(t, "")
	srv := httptest.NewUnstartedServer(env.mux)
	srv.Config.RegisterOnShutdown(env.hub.Close)
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	started := time.Now()

	require.NoError(t, srv.Config.Shutdown(ctx))
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, 0, env.hub.Subscribers())
}

func TestIntegration_ConcurrentSameCard(t *testing.T) {
	env := setup(t, "")
	body := []byte(`{"card_number":"4000000000000002","merchant_name":"Corner Bakery","category":"Dining","amount":5,"ts":"2025-01-15T12:00:00Z"}`)

	const n = 20
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			r := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader(body))
			w := httptest.NewRecorder()
			env.mux.ServeHTTP(w, r)
			var resp api.AnalyzeResponse
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			results <- resp.Flags["velocity_burst"]
		}()
	}

	bursts := 0
	for i := 0; i < n; i++ {
		if <-results {
			bursts++
		}
	}
	assert.Equal(t, n-2, bursts)
}
