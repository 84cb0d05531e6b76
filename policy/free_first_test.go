package policy_test

import (
	"context"
	"testing"

	mr "github.com/ineyio/modelrouter"
	"github.com/ineyio/modelrouter/policy"
	"github.com/ineyio/modelrouter/provider/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(name string, cost float64, q mr.QualityTier) mr.Candidate {
	d := mr.ModelDescriptor{Name: name, Provider: "mock", CostPer1K: cost, Quality: q, Speed: mr.SpeedMedium, MaxContextTokens: 8000}
	return mr.Candidate{Model: d, EstimatedCost: mr.EstimateCost(d, 1000), Available: mr.Dollars(10)}
}

func TestFreeFirst_Order(t *testing.T) {
	p := &policy.FreeFirstPolicy{}

	ranked := p.Rank(mr.TaskRequest{}, []mr.Candidate{
		candidate("paid-expensive", 0.03, mr.QualityExceptional),
		candidate("free-good", 0, mr.QualityGood),
		candidate("paid-cheap", 0.001, mr.QualityGood),
		candidate("free-excellent", 0, mr.QualityExcellent),
	})

	var names []string
	for _, c := range ranked {
		names = append(names, c.Model.Name)
	}
	assert.Equal(t, []string{"free-excellent", "free-good", "paid-cheap", "paid-expensive"}, names)
}

func TestFreeFirst_OverridesQualityFirst(t *testing.T) {
	cfg := mr.Config{
		Budget: mr.BudgetConfig{Total: 10},
		Models: []mr.ModelDescriptor{
			{Name: "local-small", Provider: "mock", CostPer1K: 0, Capabilities: []mr.TaskType{mr.TaskCodeGeneration},
				Quality: mr.QualityGood, Speed: mr.SpeedFast, MaxContextTokens: 8000},
			{Name: "big", Provider: "mock", CostPer1K: 0.02, Capabilities: []mr.TaskType{mr.TaskCodeGeneration},
				Quality: mr.QualityExceptional, Speed: mr.SpeedSlow, MaxContextTokens: 8000},
		},
		Accounts: []mr.AccountConfig{{Provider: "mock", Keyless: true}},
	}

	r, err := mr.NewRouter(cfg, []mr.Provider{mock.New()}, mr.WithPolicy(mr.QualityFirst, &policy.FreeFirstPolicy{}))
	require.NoError(t, err)

	d, err := r.Select(context.Background(), mr.TaskRequest{
		TaskType:       mr.TaskCodeGeneration,
		Prompt:         "write a parser",
		CostPreference: mr.QualityFirst,
	})
	require.NoError(t, err)
	assert.Equal(t, "local-small", d.Name)
}
