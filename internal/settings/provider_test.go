package settings_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/settings"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type memoryStore struct {
	mu      sync.Mutex
	row     *settings.Settings
	loads   atomic.Int32
	audits  []shared.AuditLog
	loadErr error
	// started receives once per load after the row was read; release then holds the load open.
	started chan struct{}
	release chan struct{}
}

func (m *memoryStore) Load(ctx context.Context) (settings.Settings, error) {
	m.loads.Add(1)
	m.mu.Lock()
	row, loadErr := m.row, m.loadErr
	if row != nil {
		copied := *row
		row = &copied
	}
	m.mu.Unlock()
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if err := ctx.Err(); err != nil {
		return settings.Settings{}, err
	}
	if loadErr != nil {
		return settings.Settings{}, loadErr
	}
	if row == nil {
		return settings.Settings{}, settings.ErrSettingsNotFound
	}
	return *row, nil
}

func (m *memoryStore) Save(_ context.Context, s settings.Settings, audit shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.row = &s
	m.audits = append(m.audits, audit)
	return nil
}

var defaults = settings.Settings{TaxRate: decimal.Zero, RefundWindowDays: 14}

func setup(t *testing.T, store *memoryStore) (*settings.Provider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return settings.NewProvider(store, client, time.Minute, defaults, nil), mr
}

func TestCurrentFallsBackToDefaultsAndCaches(t *testing.T) {
	store := &memoryStore{}
	provider, mr := setup(t, store)
	ctx := context.Background()

	s, err := provider.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 14, s.RefundWindowDays)
	require.True(t, s.TaxRate.IsZero())
	require.True(t, mr.Exists(settings.CacheKey))

	_, err = provider.Current(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, store.loads.Load())

	mr.FastForward(2 * time.Minute)
	_, err = provider.Current(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, store.loads.Load())
}

func TestUpdateRefreshesCache(t *testing.T) {
	store := &memoryStore{}
	provider, mr := setup(t, store)
	ctx := context.Background()

	_, err := provider.Current(ctx)
	require.NoError(t, err)

	updated, err := provider.Update(ctx, shared.Actor{ID: 3}, settings.UpdateInput{
		TaxRate:          decimal.RequireFromString("0.14"),
		RefundWindowDays: 30,
	})
	require.NoError(t, err)
	require.Equal(t, "0.14", updated.TaxRate.String())
	cached, err := mr.Get(settings.CacheKey)
	require.NoError(t, err)
	require.Contains(t, cached, `"refund_window_days":30`)

	s, err := provider.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 30, s.RefundWindowDays)
	require.True(t, s.TaxRate.Equal(decimal.RequireFromString("0.14")))

	require.Len(t, store.audits, 1)
	require.Equal(t, "settings.update", store.audits[0].Action)
	require.EqualValues(t, 3, store.audits[0].ActorID)
}

func TestLoadStartedBeforeUpdateDoesNotOverwriteCache(t *testing.T) {
	old := settings.Settings{TaxRate: decimal.RequireFromString("0.10"), RefundWindowDays: 14}
	store := &memoryStore{row: &old, started: make(chan struct{}, 1), release: make(chan struct{})}
	provider, _ := setup(t, store)
	ctx := context.Background()

	first := make(chan settings.Settings, 1)
	go func() {
		s, err := provider.Current(ctx)
		if err == nil {
			first <- s
		}
		close(first)
	}()
	<-store.started

	_, err := provider.Update(ctx, shared.Actor{ID: 4}, settings.UpdateInput{
		TaxRate:          decimal.RequireFromString("0.20"),
		RefundWindowDays: 14,
	})
	require.NoError(t, err)

	close(store.release)
	s, ok := <-first
	require.True(t, ok)
	require.Equal(t, "0.1", s.TaxRate.String())

	s, err = provider.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.2", s.TaxRate.String())
	require.EqualValues(t, 1, store.loads.Load())
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	stored := settings.Settings{TaxRate: decimal.RequireFromString("0.05"), RefundWindowDays: 7}
	store := &memoryStore{row: &stored, started: make(chan struct{}, 1), release: make(chan struct{})}
	provider := settings.NewProvider(store, nil, 0, defaults, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := provider.Current(cancelled)
		firstErr <- err
	}()
	<-store.started

	second := make(chan settings.Settings, 1)
	secondErr := make(chan error, 1)
	go func() {
		s, err := provider.Current(context.Background())
		secondErr <- err
		second <- s
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(store.release)

	require.NoError(t, <-secondErr)
	require.Equal(t, 7, (<-second).RefundWindowDays)
	require.EqualValues(t, 1, store.loads.Load())
}

func TestUpdateValidation(t *testing.T) {
	provider, _ := setup(t, &memoryStore{})
	ctx := context.Background()

	_, err := provider.Update(ctx, shared.Actor{}, settings.UpdateInput{RefundWindowDays: 5})
	require.ErrorIs(t, err, shared.ErrActorRequired)

	_, err = provider.Update(ctx, shared.Actor{ID: 1}, settings.UpdateInput{TaxRate: decimal.NewFromInt(1), RefundWindowDays: 5})
	require.ErrorIs(t, err, settings.ErrInvalidTaxRate)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = provider.Update(ctx, shared.Actor{ID: 1}, settings.UpdateInput{TaxRate: decimal.RequireFromString("-0.1"), RefundWindowDays: 5})
	require.ErrorIs(t, err, settings.ErrInvalidTaxRate)

	_, err = provider.Update(ctx, shared.Actor{ID: 1}, settings.UpdateInput{RefundWindowDays: 0})
	require.ErrorIs(t, err, settings.ErrInvalidWindow)
}

func TestCurrentPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection refused")
	provider, mr := setup(t, &memoryStore{loadErr: boom})

	_, err := provider.Current(context.Background())
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(settings.CacheKey))
}

func TestCurrentWithoutRedisCollapsesConcurrentLoads(t *testing.T) {
	store := &memoryStore{release: make(chan struct{})}
	stored := settings.Settings{TaxRate: decimal.RequireFromString("0.05"), RefundWindowDays: 7}
	store.row = &stored
	provider := settings.NewProvider(store, nil, 0, defaults, nil)

	var wg sync.WaitGroup
	results := make([]settings.Settings, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := provider.Current(context.Background())
			if err == nil {
				results[i] = s
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	require.EqualValues(t, 1, store.loads.Load())
	for _, s := range results {
		require.Equal(t, 7, s.RefundWindowDays)
	}
}

func TestHandler(t *testing.T) {
	provider, _ := setup(t, &memoryStore{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor, ok := httpx.ParseActor(req); ok {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/settings", settings.NewHandler(nil, provider).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"refund_window_days":14`)

	req := httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"tax_rate":"0.1","refund_window_days":21}`))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"tax_rate":"0.1","refund_window_days":21}`))
	req.Header.Set(httpx.ActorHeader, "9")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"refund_window_days":21`)

	req = httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"tax_rate":"1.5","refund_window_days":21}`))
	req.Header.Set(httpx.ActorHeader, "9")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
