package main

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/estimate/tiktoken"
	"github.com/ineyio/modelrouter/meter"
	"github.com/ineyio/modelrouter/meter/prom"
)

// loadConfig reads the config file and applies flag and env overrides.
func (a *app) loadConfig() (mr.Config, error) {
	cfg, err := mr.LoadConfig(a.v.GetString("config"))
	if err != nil {
		return mr.Config{}, err
	}
	if a.v.IsSet("budget") {
		cfg.Budget.Total = a.v.GetFloat64("budget")
	}
	if d := a.v.GetDuration("timeout"); d > 0 {
		cfg.CallTimeout = d
	}
	return cfg, cfg.Validate()
}

// newRouter builds a router from the current settings. The returned closer
// releases the ledger connection.
func (a *app) newRouter(reg prometheus.Registerer) (*mr.Router, io.Closer, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	ledger, closer, err := openLedger(a.v.GetString("ledger"))
	if err != nil {
		return nil, nil, err
	}

	meters := meter.Multi{meter.NewZapMeter(a.logger)}
	if reg != nil {
		meters = append(meters, prom.New(reg, ""))
	}
	opts := []mr.Option{mr.WithMeter(meters)}
	if ledger != nil {
		opts = append(opts, mr.WithLedger(ledger))
	}

	switch tok := a.v.GetString("tokenizer"); tok {
	case "", "heuristic":
	case "tiktoken":
		est := tiktoken.New("")
		if err := est.Err(); err != nil {
			a.logger.Warn("tiktoken unavailable, using heuristic", zap.Error(err))
		}
		opts = append(opts, mr.WithTokenEstimator(est.Func()))
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("unknown tokenizer %q", tok)
	}

	router, err := mr.NewRouter(cfg, a.buildProviders(), opts...)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	a.logger.Debug("router ready",
		zap.Int("models", len(cfg.Models)),
		zap.String("ledger", a.v.GetString("ledger")),
	)
	return router, closer, nil
}
