package transfers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/transfers"
)

func newRouter(svc *transfers.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor, ok := httpx.ParseActor(req); ok {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/transfers", transfers.NewHandler(nil, svc).MountRoutes)
	return r
}

func do(router http.Handler, method, path, body string, actor bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor {
		req.Header.Set(httpx.ActorHeader, "7")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerLifecycle(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(whA, variant, 30, 0)
	router := newRouter(f.svc)

	rr := do(router, http.MethodPost, "/transfers", fmt.Sprintf(
		`{"from_warehouse_id":%d,"to_warehouse_id":%d,"items":[{"variant_id":%d,"quantity":10}]}`, whA, whB, variant), true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created transfers.Transfer
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	base := fmt.Sprintf("/transfers/%d", created.ID)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, base+"/approve", "", true).Code)

	rr = do(router, http.MethodPost, base+"/approve", "", true)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"error"`)

	require.Equal(t, http.StatusOK, do(router, http.MethodPost, base+"/ship", "", true).Code)
	rr = do(router, http.MethodPost, base+"/receive", fmt.Sprintf(
		`{"items":[{"item_id":%d,"quantity":8,"notes":"two cartons crushed"}]}`, created.Items[0].ID), true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"status":"RECEIVED"`)
	require.Contains(t, rr.Body.String(), "two cartons crushed")

	rr = do(router, http.MethodGet, "/transfers?status=RECEIVED", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), created.Number)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f.svc)

	rr := do(router, http.MethodPost, "/transfers", `{"from_warehouse_id":1,"to_warehouse_id":2,"items":[]}`, false)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodPost, "/transfers", `{"from_warehouse_id":1,"to_warehouse_id":1,"items":[{"variant_id":1,"quantity":1}]}`, true)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "source and destination must differ")

	rr = do(router, http.MethodPost, "/transfers/1/cancel", `{}`, true)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "reason is required")

	rr = do(router, http.MethodGet, "/transfers/42", "", false)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(router, http.MethodGet, "/transfers/abc", "", false)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
