package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mr "github.com/ineyio/modelrouter"
	ledgersqlite "github.com/ineyio/modelrouter/ledger/sqlite"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func openStore(t *testing.T, total mr.Micros, opts ...ledgersqlite.Option) (*ledgersqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := ledgersqlite.Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SetBudget(context.Background(), total, mr.PeriodMonthly))
	return s, path
}

func TestReserveCommit(t *testing.T) {
	s, _ := openStore(t, mr.Dollars(1))
	ctx := context.Background()

	res, err := s.Reserve(ctx, "openai", mr.Dollars(0.5), "")
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, mr.Dollars(0.5), st.Reserved)
	assert.Equal(t, mr.Dollars(0.5), st.Available)

	require.NoError(t, s.Commit(ctx, res, mr.Dollars(0.3)))

	st, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, mr.Dollars(0.3), st.Spent)
	assert.Zero(t, st.Reserved)
	assert.Equal(t, mr.Dollars(0.7), st.Remaining)
	assert.Equal(t, map[string]mr.Micros{"openai": mr.Dollars(0.3)}, st.ByProvider)
}

func TestCommitClampsAndFreeCalls(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	res, err := s.Reserve(ctx, "p", 40, "")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, res, 90))

	free, err := s.Reserve(ctx, "local", 0, "")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, free, 0))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, mr.Micros(40), st.Spent)
	assert.NotContains(t, st.ByProvider, "local")
}

func TestBudgetExceeded(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "p", 100, "")
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "p", 1, "")
	assert.ErrorIs(t, err, mr.ErrBudgetExceeded)
}

func TestZeroHoldWhenOverspent(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	res, err := s.Reserve(ctx, "p", 100, "")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, res, 100))
	require.NoError(t, s.SetBudget(ctx, 50, mr.PeriodMonthly))

	_, err = s.Reserve(ctx, "p", 1, "")
	assert.ErrorIs(t, err, mr.ErrBudgetExceeded)

	_, err = s.Reserve(ctx, "local", 0, "")
	require.NoError(t, err)
}

func TestRollback(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	res, err := s.Reserve(ctx, "p", 70, "")
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx, res))
	assert.Error(t, s.Rollback(ctx, res))
	assert.Error(t, s.Commit(ctx, res, 10))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, mr.Micros(100), st.Available)
}

func TestIdempotency(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "p", 10, "req-1")
	require.NoError(t, err)
	_, err = s.Reserve(ctx, "p", 10, "req-1")
	assert.ErrorContains(t, err, "duplicate idempotency key")

	_, err = s.Reserve(ctx, "p", 500, "req-2")
	assert.ErrorIs(t, err, mr.ErrBudgetExceeded)
	_, err = s.Reserve(ctx, "p", 10, "req-2")
	assert.NoError(t, err, "a rejected reserve must not burn its key")
}

func TestNegativeAmounts(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "p", -1, "")
	assert.Error(t, err)
	assert.Error(t, s.SetBudget(ctx, -1, mr.PeriodDaily))
}

func TestPeriodRollover(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 31, 23, 30, 0, 0, time.UTC)}
	s, _ := openStore(t, 100, ledgersqlite.WithClock(clock.Now))
	ctx := context.Background()

	res, err := s.Reserve(ctx, "p", 80, "k")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, res, 80))
	held, err := s.Reserve(ctx, "p", 20, "")
	require.NoError(t, err)

	clock.Set(time.Date(2025, 2, 1, 0, 0, 1, 0, time.UTC))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Spent)
	assert.Empty(t, st.ByProvider)
	assert.Equal(t, mr.Micros(20), st.Reserved)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), st.ResetAt)

	_, err = s.Reserve(ctx, "p", 1, "k")
	assert.NoError(t, err, "idempotency keys reset with the period")
	require.NoError(t, s.Commit(ctx, held, 20))
}

func TestSetBudgetChangesPeriod(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
	s, _ := openStore(t, 100, ledgersqlite.WithClock(clock.Now))
	ctx := context.Background()

	res, err := s.Reserve(ctx, "p", 30, "")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, res, 30))

	require.NoError(t, s.SetBudget(ctx, 50, mr.PeriodDaily))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, mr.PeriodDaily, st.Period)
	assert.Equal(t, mr.Micros(30), st.Spent, "spend survives a budget change")
	assert.Equal(t, mr.Micros(20), st.Remaining)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), st.ResetAt)
}

func TestPersistsAcrossReopen(t *testing.T) {
	s, path := openStore(t, 1000)
	ctx := context.Background()

	res, err := s.Reserve(ctx, "gemini", 250, "")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, res, 250))
	require.NoError(t, s.Close())

	reopened, err := ledgersqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	st, err := reopened.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, mr.Micros(1000), st.Total)
	assert.Equal(t, mr.Micros(250), st.Spent)
	assert.Equal(t, mr.Micros(250), st.ByProvider["gemini"])
}

func TestConcurrentReservesNoOverAllocation(t *testing.T) {
	s, _ := openStore(t, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	var ok atomic.Int64
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Reserve(ctx, "p", 1, ""); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok.Load())
	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Available)
}

func TestRouterUsesSQLiteLedger(t *testing.T) {
	s, _ := openStore(t, 0)
	ctx := context.Background()

	cfg := mr.Config{
		Budget:   mr.BudgetConfig{Total: 0.05, Period: mr.PeriodMonthly},
		Accounts: []mr.AccountConfig{{Provider: "echo", Auth: mr.Auth{APIKey: "k"}}},
		Models: []mr.ModelDescriptor{{
			Name: "echo-large", Provider: "echo", CostPer1K: 0.01,
			MaxContextTokens: 8000, Quality: mr.QualityExcellent, Speed: mr.SpeedMedium,
		}},
	}
	router, err := mr.NewRouter(cfg, []mr.Provider{echoProvider{}}, mr.WithLedger(s))
	require.NoError(t, err)

	result, err := router.RouteTask(ctx, mr.TaskRequest{
		Prompt:         "hello",
		TaskType:       mr.TaskQuickAnalysis,
		Priority:       mr.PriorityMedium,
		CostPreference: mr.Balanced,
		MaxTokens:      1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "echo-large", result.Model)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, mr.Dollars(0.05), st.Total)
	assert.Equal(t, mr.Dollars(0.01), st.Spent)
}

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Invoke(_ context.Context, req mr.ProviderRequest) (mr.ProviderResponse, error) {
	return mr.ProviderResponse{Content: req.Prompt, Model: req.Model}, nil
}
