package modelrouter

import "sort"

// Policy ranks affordable candidates for a request.
type Policy interface {
	// Rank orders candidates by preference. Returns ordered slice (best first).
	Rank(req TaskRequest, candidates []Candidate) []Candidate
}

// Candidate is a model that passed capability, availability and budget filters.
type Candidate struct {
	Model         ModelDescriptor
	EstimatedCost Micros
	Available     Micros // ledger funds available when the candidate was built
}

// CostOptimizedPolicy picks the cheapest model, then the higher quality tier, then by name.
type CostOptimizedPolicy struct{}

func (CostOptimizedPolicy) Rank(_ TaskRequest, candidates []Candidate) []Candidate {
	return sortedCopy(candidates, func(a, b Candidate) bool {
		if a.Model.CostPer1K != b.Model.CostPer1K {
			return a.Model.CostPer1K < b.Model.CostPer1K
		}
		if a.Model.Quality != b.Model.Quality {
			return a.Model.Quality > b.Model.Quality
		}
		return a.Model.Name < b.Model.Name
	})
}

// QualityFirstPolicy picks the highest quality tier, then the cheapest, then by name.
type QualityFirstPolicy struct{}

func (QualityFirstPolicy) Rank(_ TaskRequest, candidates []Candidate) []Candidate {
	return sortedCopy(candidates, func(a, b Candidate) bool {
		if a.Model.Quality != b.Model.Quality {
			return a.Model.Quality > b.Model.Quality
		}
		if a.Model.CostPer1K != b.Model.CostPer1K {
			return a.Model.CostPer1K < b.Model.CostPer1K
		}
		return a.Model.Name < b.Model.Name
	})
}

// BalancedPolicy ranks by the weighted score of Scoring, highest first.
type BalancedPolicy struct {
	Scoring Scoring
}

func (p BalancedPolicy) Rank(req TaskRequest, candidates []Candidate) []Candidate {
	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.Model.Name] = p.Scoring.Score(req.Priority, c)
	}
	return sortedCopy(candidates, func(a, b Candidate) bool {
		sa, sb := scores[a.Model.Name], scores[b.Model.Name]
		if sa != sb {
			return sa > sb
		}
		return a.Model.Name < b.Model.Name
	})
}

func sortedCopy(candidates []Candidate, less func(a, b Candidate) bool) []Candidate {
	result := make([]Candidate, len(candidates))
	copy(result, candidates)
	sort.SliceStable(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}
