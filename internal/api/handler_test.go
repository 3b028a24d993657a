package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/fundcore/internal/config"
	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/export"
	"github.com/mtlprog/fundcore/internal/ledger"
	"github.com/mtlprog/fundcore/internal/protocol"
	"github.com/mtlprog/fundcore/internal/settlement"
	"github.com/mtlprog/fundcore/internal/store"
	"github.com/mtlprog/fundcore/internal/successfee"
)

const adminKey = "secret-key"

var alice = ledger.Address{Payment: ledger.Credential{Hash: "alice"}}

type testEnv struct {
	store  *store.MemoryStore
	router http.Handler
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	fund := settlement.NewService(protocol.Params{
		Policy:        "aa",
		Prefix:        "FUND",
		Agent:         "agent",
		Oracle:        "oracle",
		Benchmark:     "bench",
		ManagementFee: protocol.ManagementFee{Relative: decimal.RequireFromString("0.02"), Period: 365 * 24 * time.Hour},
		SuccessFee:    successfee.Schedule{C0: decimal.RequireFromString("0.2")},
	}, st)
	err := fund.Bootstrap(context.Background(), config.Genesis{
		Script:       "fund",
		StartTime:    time.Now().Add(-time.Hour),
		Period:       30 * 24 * time.Hour,
		StartPrice:   decimal.NewFromInt(1),
		CellLovelace: 2_000_000,
	})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	wallet := ledger.Output{Ref: ledger.OutputRef{TxID: "wallet", Index: 0}, Address: alice, Value: domain.LovelaceValue(5_000_000)}
	if err := st.Apply(context.Background(), store.Changeset{Created: []ledger.Output{wallet}}); err != nil {
		t.Fatal(err)
	}

	reports := export.NewService(fund, nil, 10)
	return testEnv{store: st, router: NewRouter(fund, reports, adminKey)}
}

func (e testEnv) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+adminKey)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

const transfer = `{
	"id": "pay",
	"inputs": [{"txId": "wallet", "index": 0}],
	"outputs": [{"address": {"payment": {"hash": "bob"}}, "value": {"lovelace": 5000000}}]%s
}`

func TestGetState(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/api/v1/supply", http.StatusOK},
		{"/api/v1/price", http.StatusOK},
		{"/api/v1/portfolio", http.StatusOK},
		{"/api/v1/groups", http.StatusOK},
		{"/api/v1/groups/0", http.StatusNotFound},
		{"/api/v1/groups/x", http.StatusBadRequest},
		{"/api/v1/reimbursements/0", http.StatusOK},
		{"/api/v1/reimbursements/7", http.StatusNotFound},
		{"/api/v1/reimbursements/-1", http.StatusBadRequest},
		{"/api/v1/transitions", http.StatusOK},
		{"/api/v1/schedule?alpha=2", http.StatusOK},
		{"/api/v1/schedule?alpha=-1", http.StatusBadRequest},
		{"/api/v1/schedule", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if w := env.do(http.MethodGet, tt.path, "", false); w.Code != tt.want {
				t.Errorf("GET %s = %d, want %d: %s", tt.path, w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestGetSupply(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/v1/supply", "", false)

	resp := decode[struct {
		Cell struct {
			Ref *ledger.OutputRef `json:"ref"`
		} `json:"cell"`
		Status struct {
			CanClose bool `json:"canClose"`
		} `json:"status"`
	}](t, w)
	if resp.Cell.Ref == nil || resp.Cell.Ref.TxID != settlement.GenesisTxID {
		t.Errorf("cell ref = %v, want genesis", resp.Cell.Ref)
	}
	if resp.Status.CanClose {
		t.Error("CanClose = true one hour into a 30 day period")
	}
}

func TestGetSchedule(t *testing.T) {
	env := newTestEnv(t)
	q := decode[successfee.Quote](t, env.do(http.MethodGet, "/api/v1/schedule?alpha=2", "", false))
	if !q.Fee.Equal(decimal.RequireFromString("0.2")) || !q.Rate.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("quote = %+v, want fee 0.2 rate 0.1", q)
	}
}

func TestSubmitTransition(t *testing.T) {
	tests := []struct {
		name string
		body string
		auth bool
		want int
	}{
		{"no auth", strings.Replace(transfer, "%s", `, "signatories": ["alice"]`, 1), false, http.StatusUnauthorized},
		{"accepted", strings.Replace(transfer, "%s", `, "signatories": ["alice"]`, 1), true, http.StatusCreated},
		{"unsigned", strings.Replace(transfer, "%s", "", 1), true, http.StatusForbidden},
		{"invalid json", `{"id":`, true, http.StatusBadRequest},
		{"unknown field", `{"id": "x", "bogus": 1}`, true, http.StatusBadRequest},
		{"missing id", `{"inputs": []}`, true, http.StatusBadRequest},
		{"unknown input", `{"id": "x", "inputs": [{"txId": "nowhere", "index": 0}]}`, true, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if w := env.do(http.MethodPost, "/api/v1/transitions", tt.body, tt.auth); w.Code != tt.want {
				t.Errorf("POST = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestSubmitThenReplay(t *testing.T) {
	env := newTestEnv(t)
	body := strings.Replace(transfer, "%s", `, "signatories": ["alice"]`, 1)

	if w := env.do(http.MethodPost, "/api/v1/transitions", body, true); w.Code != http.StatusCreated {
		t.Fatalf("first POST = %d: %s", w.Code, w.Body)
	}
	if w := env.do(http.MethodPost, "/api/v1/transitions", body, true); w.Code != http.StatusConflict {
		t.Errorf("replayed POST = %d, want 409: %s", w.Code, w.Body)
	}

	history := decode[[]store.Transition](t, env.do(http.MethodGet, "/api/v1/transitions?limit=2", "", false))
	if len(history) != 2 || history[0].Accepted || !history[1].Accepted {
		t.Errorf("history = %+v, want rejected replay then accepted transfer", history)
	}
}

func TestValidateTransitionDoesNotCommit(t *testing.T) {
	env := newTestEnv(t)
	body := strings.Replace(transfer, "%s", `, "signatories": ["alice"]`, 1)

	if w := env.do(http.MethodPost, "/api/v1/transitions/validate", body, true); w.Code != http.StatusOK {
		t.Fatalf("validate = %d: %s", w.Code, w.Body)
	}
	if _, err := env.store.Outputs(context.Background(), []ledger.OutputRef{{TxID: "wallet", Index: 0}}); err != nil {
		t.Errorf("wallet cell spent by a dry run: %v", err)
	}
}

func TestGetWorkbook(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/v1/export.xlsx", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("GET export.xlsx = %d: %s", w.Code, w.Body)
	}
	f, err := excelize.OpenReader(w.Body)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); len(got) != 4 {
		t.Errorf("sheets = %v, want 4", got)
	}
}
