package gonka

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	mr "github.com/ineyio/modelrouter"
)

// Endpoint represents a Gonka inference node.
type Endpoint struct {
	URL     string // OpenAI-compatible base URL, e.g. "https://node1.gonka.ai/v1"
	Address string // bech32 address of the node, signed as the transfer address
}

// signingTransport swaps the bearer key set by the OpenAI-compatible client
// for a request signature plus the requester headers Gonka nodes expect.
type signingTransport struct {
	base     http.RoundTripper
	accounts *accounts
	endpoint Endpoint
	now      func() time.Time
}

func newSigningTransport(base http.RoundTripper, endpoint Endpoint) *signingTransport {
	return &signingTransport{
		base:     base,
		accounts: newAccounts(),
		endpoint: endpoint,
		now:      time.Now,
	}
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hexKey, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(hexKey) == "" {
		return nil, fmt.Errorf("%w: gonka: missing requester key", mr.ErrAuthFailed)
	}

	acc, err := t.accounts.get(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mr.ErrAuthFailed, err)
	}

	var body []byte
	if req.Body != nil {
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("gonka: read request body: %w", err)
		}
	}

	ts := t.now().UnixNano()

	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", signPayload(acc.key, body, ts, t.endpoint.Address))
	clone.Header.Set("X-Requester-Address", acc.address)
	clone.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))

	return t.base.RoundTrip(clone)
}
