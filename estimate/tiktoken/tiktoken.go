// Package tiktoken counts prompt tokens with a BPE encoder, for use with
// modelrouter.WithTokenEstimator.
package tiktoken

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	mr "github.com/ineyio/modelrouter"
)

// DefaultEncoding is the encoding used by current OpenAI chat models.
const DefaultEncoding = "cl100k_base"

// requestOverhead matches the per-message framing of a single-turn chat request.
const requestOverhead = 7

// Estimator counts tokens with the named encoding. The encoder is loaded on
// first use (it may download the BPE ranks); until it is available the
// character heuristic is used instead.
type Estimator struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// New creates an Estimator. An empty encoding means DefaultEncoding.
func New(encoding string) *Estimator {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Estimator{encoding: encoding}
}

// Count returns the token count of prompt plus request framing.
func (e *Estimator) Count(prompt string) int {
	e.once.Do(e.load)
	if e.enc == nil {
		return mr.EstimateTokens(prompt)
	}
	return len(e.enc.EncodeOrdinary(prompt)) + requestOverhead
}

// Err reports why the encoder could not be loaded, if it could not.
func (e *Estimator) Err() error {
	e.once.Do(e.load)
	return e.err
}

// Func adapts the estimator for modelrouter.WithTokenEstimator.
func (e *Estimator) Func() mr.TokenEstimator { return e.Count }

func (e *Estimator) load() {
	e.enc, e.err = tiktoken.GetEncoding(e.encoding)
}
