package plans

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
)

// Plan is what a LemonSqueezy variant buys.
type Plan struct {
	VariantID    string          `json:"variant_id"`
	Key          string          `json:"key"`
	PlanName     string          `json:"plan_name"`
	Credits      int             `json:"credits"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	Subscription bool            `json:"subscription"`
}

type PlansFile struct {
	Plans []Plan `json:"plans"`
}

type Registry struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

func NewRegistry() *Registry {
	return &Registry{
		plans: make(map[string]*Plan),
	}
}

// Defaults are the standard monthly plans, keyed by the variant ids the
// deployment was configured with. Empty ids are skipped.
func Defaults(basicVariantID, proVariantID, premiumVariantID string) []Plan {
	return []Plan{
		{VariantID: basicVariantID, Key: "basic", PlanName: "Basic Plan", Credits: 1200, PriceUSD: decimal.RequireFromString("9.90"), Subscription: true},
		{VariantID: proVariantID, Key: "pro", PlanName: "Pro Plan", Credits: 3000, PriceUSD: decimal.RequireFromString("19.90"), Subscription: true},
		{VariantID: premiumVariantID, Key: "premium", PlanName: "Premium Plan", Credits: 7200, PriceUSD: decimal.RequireFromString("39.90"), Subscription: true},
	}
}

// LoadFromFile reads plan definitions from a JSON file. A missing file yields
// an empty registry so defaults can still be registered.
func LoadFromFile(path string) (*Registry, error) {
	registry := NewRegistry()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return registry, nil
		}
		return nil, fmt.Errorf("failed to read plans config: %w", err)
	}

	var file PlansFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans config: %w", err)
	}

	for i := range file.Plans {
		if err := registry.Register(file.Plans[i]); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(p Plan) error {
	if p.VariantID == "" {
		return errors.New("plan variant_id is required")
	}
	if p.Credits < 0 {
		return fmt.Errorf("plan %s: credits must not be negative", p.VariantID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.VariantID] = &p
	return nil
}

// RegisterDefaults adds entries for variants the file did not define.
func (r *Registry) RegisterDefaults(defaults []Plan) {
	for _, p := range defaults {
		if p.VariantID == "" || r.Exists(p.VariantID) {
			continue
		}
		_ = r.Register(p)
	}
}

// SetSubscriptionVariants replaces every plan's Subscription flag: only the
// listed variants are billed per invoice, all others grant on order.
func (r *Registry) SetSubscriptionVariants(variantIDs []string) {
	set := make(map[string]bool, len(variantIDs))
	for _, id := range variantIDs {
		set[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.plans {
		p.Subscription = set[id]
	}
}

func (r *Registry) Get(variantID string) (Plan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[variantID]
	if !ok {
		return Plan{}, false
	}
	return *p, true
}

func (r *Registry) Exists(variantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plans[variantID]
	return ok
}

func (r *Registry) IsSubscriptionVariant(variantID string) bool {
	p, ok := r.Get(variantID)
	return ok && p.Subscription
}

// CreditsFor returns 0 for unknown variants.
func (r *Registry) CreditsFor(variantID string) int {
	p, _ := r.Get(variantID)
	return p.Credits
}

func (r *Registry) All() []Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		result = append(result, *p)
	}
	return result
}
