package modelrouter

import (
	"fmt"
	"sort"
)

// ModelDescriptor describes one callable model on one provider.
type ModelDescriptor struct {
	Name             string      `yaml:"name" toml:"name"`
	Provider         string      `yaml:"provider" toml:"provider"`
	CostPer1K        float64     `yaml:"cost_per_1k" toml:"cost_per_1k"`
	Capabilities     []TaskType  `yaml:"capabilities" toml:"capabilities"`
	Quality          QualityTier `yaml:"quality" toml:"quality"`
	Speed            SpeedTier   `yaml:"speed" toml:"speed"`
	MaxContextTokens int         `yaml:"max_context_tokens" toml:"max_context_tokens"`
}

// Free reports whether calls to the model cost nothing.
func (d ModelDescriptor) Free() bool { return d.CostPer1K == 0 }

// Supports reports whether the descriptor is tagged with t.
func (d ModelDescriptor) Supports(t TaskType) bool {
	for _, c := range d.Capabilities {
		if c == t {
			return true
		}
	}
	return false
}

func (d ModelDescriptor) general() bool {
	return d.Supports(TaskGeneral) || d.Quality == QualityGood || d.Speed == SpeedFast
}

// costPer1KMicros is the per-1K price in Micros.
func (d ModelDescriptor) costPer1KMicros() Micros { return Dollars(d.CostPer1K) }

// EstimateCost returns the cost of a call producing maxTokens tokens.
// Partial micros round up so the ledger never undercharges.
func EstimateCost(d ModelDescriptor, maxTokens int) Micros {
	if d.Free() || maxTokens <= 0 {
		return 0
	}
	n := int64(d.costPer1KMicros()) * int64(maxTokens)
	return Micros((n + 999) / 1000)
}

// Catalog is the read-only set of model descriptors a Router chooses from.
type Catalog struct {
	models []ModelDescriptor // sorted by name
	byName map[string]int
}

// NewCatalog validates descriptors and builds a Catalog.
func NewCatalog(descs []ModelDescriptor) (*Catalog, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("modelrouter: catalog: at least one model is required")
	}

	models := make([]ModelDescriptor, len(descs))
	copy(models, descs)
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	byName := make(map[string]int, len(models))
	for i, d := range models {
		if err := validateDescriptor(d); err != nil {
			return nil, err
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("modelrouter: catalog: duplicate model %q", d.Name)
		}
		byName[d.Name] = i
		models[i].Capabilities = append([]TaskType(nil), d.Capabilities...)
	}

	return &Catalog{models: models, byName: byName}, nil
}

func validateDescriptor(d ModelDescriptor) error {
	if d.Name == "" {
		return fmt.Errorf("modelrouter: catalog: model name is required")
	}
	if d.Provider == "" {
		return fmt.Errorf("modelrouter: catalog: model %q: provider is required", d.Name)
	}
	if d.CostPer1K < 0 {
		return fmt.Errorf("modelrouter: catalog: model %q: negative cost", d.Name)
	}
	if d.Quality < QualityGood || d.Quality > QualityExceptional {
		return fmt.Errorf("modelrouter: catalog: model %q: quality tier is required", d.Name)
	}
	if d.Speed < SpeedSlow || d.Speed > SpeedFast {
		return fmt.Errorf("modelrouter: catalog: model %q: speed tier is required", d.Name)
	}
	if d.MaxContextTokens <= 0 {
		return fmt.Errorf("modelrouter: catalog: model %q: max_context_tokens must be positive", d.Name)
	}
	for _, c := range d.Capabilities {
		if !c.Valid() && c != TaskGeneral {
			return fmt.Errorf("modelrouter: catalog: model %q: unknown capability %q", d.Name, c)
		}
	}
	return nil
}

// Models returns all descriptors sorted by name.
func (c *Catalog) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

// Lookup returns the descriptor with the given name.
func (c *Catalog) Lookup(name string) (ModelDescriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return ModelDescriptor{}, false
	}
	return c.models[i], true
}

// FindByCapability returns the descriptors tagged with t, sorted by name.
// An empty result means the caller should fall back to General.
func (c *Catalog) FindByCapability(t TaskType) []ModelDescriptor {
	return c.filter(func(d ModelDescriptor) bool { return d.Supports(t) })
}

// General returns the general-purpose fallback set: descriptors tagged
// "general", or rated good quality, or fast.
func (c *Catalog) General() []ModelDescriptor {
	return c.filter(ModelDescriptor.general)
}

// FreeModels returns zero-cost descriptors sorted by name.
func (c *Catalog) FreeModels() []ModelDescriptor {
	return c.filter(ModelDescriptor.Free)
}

// Providers returns the distinct provider names in the catalog.
func (c *Catalog) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range c.models {
		if !seen[d.Provider] {
			seen[d.Provider] = true
			out = append(out, d.Provider)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) filter(keep func(ModelDescriptor) bool) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range c.models {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
