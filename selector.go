package modelrouter

import (
	"fmt"
	"strings"
)

// Selector ranks catalog entries for a request. It holds no mutable state:
// identical catalog, request and budget always yield the same model.
type Selector struct {
	catalog          *Catalog
	policies         map[CostPreference]Policy
	usable           map[string]bool // provider -> registered and credentialed
	health           *HealthTracker  // nil means every provider is healthy
	estimate         TokenEstimator
	defaultMaxTokens int
	freeModel        string
}

// normalize fills request defaults and validates enums.
func (s *Selector) normalize(req TaskRequest) (TaskRequest, error) {
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if req.CostPreference == "" {
		req.CostPreference = Balanced
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = s.defaultMaxTokens
	}

	switch {
	case !req.TaskType.Valid():
		return req, fmt.Errorf("%w: unknown task type %q", ErrInvalidRequest, req.TaskType)
	case !req.Priority.valid():
		return req, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, req.Priority)
	case !req.CostPreference.valid():
		return req, fmt.Errorf("%w: unknown cost preference %q", ErrInvalidRequest, req.CostPreference)
	case req.MaxTokens < 0:
		return req, fmt.Errorf("%w: max tokens must be positive", ErrInvalidRequest)
	case strings.TrimSpace(req.Prompt) == "":
		return req, fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}
	return req, nil
}

func (s *Selector) eligible(d ModelDescriptor, promptTokens, maxTokens int, exclude map[string]bool) bool {
	if exclude[d.Name] || !s.usable[d.Provider] {
		return false
	}
	if s.health != nil && s.health.GetHealth(d.Provider) == HealthUnhealthy {
		return false
	}
	return fits(d, promptTokens, maxTokens)
}

// candidates returns the affordable candidates for a normalized request.
func (s *Selector) candidates(req TaskRequest, available Micros, exclude map[string]bool) []Candidate {
	promptTokens := s.estimate(req.Prompt)

	pool := s.catalog.FindByCapability(req.TaskType)
	if len(pool) == 0 {
		pool = s.catalog.General()
	}

	var out []Candidate
	for _, d := range pool {
		if !s.eligible(d, promptTokens, req.MaxTokens, exclude) {
			continue
		}
		cost := EstimateCost(d, req.MaxTokens)
		if cost > available {
			continue
		}
		out = append(out, Candidate{Model: d, EstimatedCost: cost, Available: available})
	}
	return out
}

// Select returns the best model for req given the funds available on the ledger.
// Models in exclude are skipped. When nothing affordable remains the designated
// free model is returned; if there is none, ErrNoAffordableModel.
func (s *Selector) Select(req TaskRequest, available Micros, exclude map[string]bool) (ModelDescriptor, error) {
	req, err := s.normalize(req)
	if err != nil {
		return ModelDescriptor{}, err
	}
	return s.selectNormalized(req, available, exclude)
}

func (s *Selector) selectNormalized(req TaskRequest, available Micros, exclude map[string]bool) (ModelDescriptor, error) {
	if cands := s.candidates(req, available, exclude); len(cands) > 0 {
		if ranked := s.policies[req.CostPreference].Rank(req, cands); len(ranked) > 0 {
			return ranked[0].Model, nil
		}
	}

	if free, ok := s.free(exclude); ok {
		return free, nil
	}
	return ModelDescriptor{}, ErrNoAffordableModel
}

// free returns the designated free fallback model. Health is ignored: the
// free tier is the last resort before a hard failure.
func (s *Selector) free(exclude map[string]bool) (ModelDescriptor, bool) {
	if s.freeModel != "" {
		d, ok := s.catalog.Lookup(s.freeModel)
		if !ok || exclude[d.Name] || !s.usable[d.Provider] {
			return ModelDescriptor{}, false
		}
		return d, true
	}
	for _, d := range s.catalog.FreeModels() {
		if !exclude[d.Name] && s.usable[d.Provider] {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

// cheapestPaid returns the cheapest affordable paid model across the whole
// catalog, ties broken by name.
func (s *Selector) cheapestPaid(req TaskRequest, available Micros, exclude map[string]bool) (ModelDescriptor, bool) {
	promptTokens := s.estimate(req.Prompt)

	var best ModelDescriptor
	found := false
	for _, d := range s.catalog.Models() {
		if d.Free() || !s.eligible(d, promptTokens, req.MaxTokens, exclude) {
			continue
		}
		if EstimateCost(d, req.MaxTokens) > available {
			continue
		}
		if !found || d.CostPer1K < best.CostPer1K {
			best, found = d, true
		}
	}
	return best, found
}

// providerCount is the number of distinct usable providers in the catalog.
func (s *Selector) providerCount() int {
	n := 0
	for _, p := range s.catalog.Providers() {
		if s.usable[p] {
			n++
		}
	}
	return n
}
