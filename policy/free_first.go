package policy

import (
	"sort"

	mr "github.com/ineyio/modelrouter"
)

// FreeFirstPolicy prefers free models (best quality first), then paid models
// by estimated cost ascending. Ties are broken by name.
type FreeFirstPolicy struct{}

var _ mr.Policy = (*FreeFirstPolicy)(nil)

// Rank orders candidates: free first (highest quality), then paid (cheapest).
func (p *FreeFirstPolicy) Rank(_ mr.TaskRequest, candidates []mr.Candidate) []mr.Candidate {
	result := make([]mr.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ci, cj := result[i], result[j]

		// Free before paid.
		if ci.Model.Free() != cj.Model.Free() {
			return ci.Model.Free()
		}

		if ci.Model.Free() {
			if ci.Model.Quality != cj.Model.Quality {
				return ci.Model.Quality > cj.Model.Quality
			}
			return ci.Model.Name < cj.Model.Name
		}

		if ci.EstimatedCost != cj.EstimatedCost {
			return ci.EstimatedCost < cj.EstimatedCost
		}
		return ci.Model.Name < cj.Model.Name
	})

	return result
}
