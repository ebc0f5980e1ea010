package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"polymarket-copytrader/api"
	"polymarket-copytrader/config"
	"polymarket-copytrader/executor"
	"polymarket-copytrader/strategy"
	"polymarket-copytrader/syncer"
)

func newTestRouter(blocksWS *api.BlocksWSClient) *gin.Engine {
	gin.SetMode(gin.TestMode)

	tracker := syncer.NewOnChainTracker(nil, nil, syncer.DefaultTrackerConfig())
	wallet := executor.NewPaperWallet(1000, 0.5)
	engine := strategy.NewDecisionEngine(config.Default().Strategy, nil, wallet, wallet)

	r := gin.New()
	NewHandler(tracker, engine, wallet, nil, blocksWS).Register(r)
	return r
}

func TestHealth(t *testing.T) {
	r := newTestRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestGetTrackerOmitsHeadsWithoutFeed(t *testing.T) {
	r := newTestRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tracker", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["scanner"]; !ok {
		t.Error("response missing scanner metrics")
	}
	if _, ok := body["heads_ws"]; ok {
		t.Error("heads_ws present without a websocket feed")
	}
}

func TestGetTrackerReportsHeadStats(t *testing.T) {
	ws := api.NewBlocksWSClient("ws://unused", nil)
	r := newTestRouter(ws)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tracker", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		HeadsWS *struct {
			HeadsSeen  int64 `json:"heads_seen"`
			Reconnects int64 `json:"reconnects"`
		} `json:"heads_ws"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.HeadsWS == nil {
		t.Fatal("response missing heads_ws stats")
	}
	if body.HeadsWS.HeadsSeen != 0 || body.HeadsWS.Reconnects != 0 {
		t.Errorf("stats = %+v, want zeroed counters", *body.HeadsWS)
	}
}
