package tiktoken_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/estimate/tiktoken"
)

func TestEstimator_UnknownEncodingFallsBack(t *testing.T) {
	e := tiktoken.New("no-such-encoding")

	require.Error(t, e.Err())
	prompt := strings.Repeat("a", 400)
	assert.Equal(t, mr.EstimateTokens(prompt), e.Count(prompt))
}

func TestEstimator_CL100K(t *testing.T) {
	e := tiktoken.New("")
	if e.Err() != nil {
		t.Skipf("encoder unavailable (network or cache miss): %v", e.Err())
	}

	// "hello world" is two tokens in cl100k_base.
	assert.Equal(t, 2+7, e.Count("hello world"))
	assert.Greater(t, e.Count(strings.Repeat("router ", 100)), e.Count("router"))
}

func TestEstimator_Func(t *testing.T) {
	var est mr.TokenEstimator = tiktoken.New("no-such-encoding").Func()
	assert.Equal(t, mr.EstimateTokens("abc"), est("abc"))
}
