package main

import (
	"fmt"
	"io"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	mr "github.com/ineyio/modelrouter"
	ledgerredis "github.com/ineyio/modelrouter/ledger/redis"
	ledgersqlite "github.com/ineyio/modelrouter/ledger/sqlite"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openLedger resolves a --ledger value. A nil store means the router's
// in-memory ledger.
func openLedger(dsn string) (mr.LedgerStore, io.Closer, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return nil, nopCloser{}, nil

	case strings.HasPrefix(dsn, "sqlite:"):
		path := strings.TrimPrefix(dsn, "sqlite:")
		if path == "" {
			return nil, nil, fmt.Errorf("ledger %q: missing sqlite path", dsn)
		}
		store, err := ledgersqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger %q: %w", dsn, err)
		}
		client := goredis.NewClient(opts)
		return ledgerredis.New(client), client, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger %q (want memory, sqlite:<path> or redis://...)", dsn)
	}
}
