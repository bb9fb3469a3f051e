package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/graft/internal/toy"
	"github.com/samcharles93/graft/internal/tuner"
)

func newTestEcho(t *testing.T) (*echo.Echo, *tuner.Model) {
	t.Helper()
	m, err := tuner.AttachAll(toy.NewBackbone(16, 8, 1, 42), map[string]tuner.Config{
		"low":   {Type: tuner.TypeLoRA, TargetModules: []string{"query"}, Rank: 2, Alpha: 4, Seed: 1},
		"bneck": {Type: tuner.TypeAdapter, TargetModules: []string{"out"}, BottleneckDim: 4, Seed: 2},
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	e := echo.New()
	NewServer(m, nil).Register(e)
	return e, m
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListTuners(t *testing.T) {
	t.Parallel()

	e, m := newTestEcho(t)
	m.SetActive("low")

	rec := doJSON(t, e, http.MethodGet, "/v1/tuners", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp ListTunersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Tuners) != 2 {
		t.Fatalf("tuners got %d want 2", len(resp.Tuners))
	}
	if diff := cmp.Diff([]string{"low"}, resp.Active); diff != "" {
		t.Fatalf("active (-want +got):\n%s", diff)
	}
}

func TestSetActiveEndpoint(t *testing.T) {
	t.Parallel()

	e, m := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/tuners/active", `{"active":["bneck"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status got %d body=%s", rec.Code, rec.Body.String())
	}
	if diff := cmp.Diff([]string{"bneck"}, m.Active()); diff != "" {
		t.Fatalf("active (-want +got):\n%s", diff)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/tuners/active", `{"active":["nope"]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown set, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestForwardPerRequestSelection(t *testing.T) {
	t.Parallel()

	e, m := newTestEcho(t)
	m.SetActive("low")

	forward := func(body string) ForwardResponse {
		t.Helper()
		rec := doJSON(t, e, http.MethodPost, "/v1/forward", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status got %d body=%s", rec.Code, rec.Body.String())
		}
		var resp ForwardResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	withDefault := forward(`{"tokens":[1,2,3]}`)
	withLow := forward(`{"tokens":[1,2,3],"tuners":["low"]}`)
	withNone := forward(`{"tokens":[1,2,3],"tuners":[]}`)

	if withDefault.Rows != 3 || withDefault.Cols != 16 {
		t.Fatalf("shape got [%d %d] want [3 16]", withDefault.Rows, withDefault.Cols)
	}
	// The explicit selection matches the default it mirrors.
	if diff := cmp.Diff(withDefault.Data, withLow.Data); diff != "" {
		t.Fatalf("explicit selection differs from default (-want +got):\n%s", diff)
	}
	// An empty selection overrides the default; DeltaCount only moved for
	// the two selected passes.
	_ = withNone
	if got := m.DeltaCount("low"); got != 2 {
		t.Fatalf("delta count got %d want 2", got)
	}
}

func TestForwardValidation(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"tokens":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty tokens, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/forward", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMergeEndpoints(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/tuners/low/merge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("merge status got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/tuners/low/unmerge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unmerge status got %d body=%s", rec.Code, rec.Body.String())
	}

	// The bottleneck adapter has no linear delta to fold in.
	rec = doJSON(t, e, http.MethodPost, "/v1/tuners/bneck/merge", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unsupported merge, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestDetachEndpoint(t *testing.T) {
	t.Parallel()

	e, m := newTestEcho(t)

	rec := doJSON(t, e, http.MethodDelete, "/v1/tuners/low", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detach status got %d body=%s", rec.Code, rec.Body.String())
	}
	if diff := cmp.Diff([]string{"bneck"}, m.Sets()); diff != "" {
		t.Fatalf("sets (-want +got):\n%s", diff)
	}

	rec = doJSON(t, e, http.MethodDelete, "/v1/tuners/low", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown set, got %d body=%s", rec.Code, rec.Body.String())
	}
}
