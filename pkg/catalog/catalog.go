// Package catalog loads the pricing catalog and entitlement grant schedule
// from YAML files and serves them to the rest of the service. The catalog
// can be hot-reloaded while requests are in flight.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/usagekit/tollgate/pkg/pricing"
)

// Catalog maps feature names to their overage pricing policies.
type Catalog struct {
	Features map[string]pricing.Policy
}

// yaml.v3 does not call TextUnmarshaler on decimal.Decimal, so amounts are
// decoded as strings and converted explicitly.
type catalogYAML struct {
	Features map[string]featureYAML `yaml:"features"`
}

type featureYAML struct {
	Flat      string     `yaml:"flat_amount"`
	UnitCount string     `yaml:"unit_count"`
	Tiers     []tierYAML `yaml:"tiers"`
}

type tierYAML struct {
	UpTo string `yaml:"up_to"`
	Rate string `yaml:"rate"`
}

// Parse decodes and validates a pricing catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	c := &Catalog{Features: make(map[string]pricing.Policy, len(doc.Features))}
	for name, f := range doc.Features {
		policy, err := f.toPolicy()
		if err != nil {
			return nil, fmt.Errorf("catalog: feature %q: %w", name, err)
		}
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: feature %q: %w", name, err)
		}
		c.Features[name] = policy
	}
	return c, nil
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

func (f featureYAML) toPolicy() (pricing.Policy, error) {
	var p pricing.Policy
	var err error

	if p.Flat, err = parseAmount(f.Flat, "flat_amount"); err != nil {
		return pricing.Policy{}, err
	}
	if p.UnitCount, err = parseAmount(f.UnitCount, "unit_count"); err != nil {
		return pricing.Policy{}, err
	}
	for i, t := range f.Tiers {
		tier := pricing.Tier{}
		if tier.Rate, err = parseAmount(t.Rate, "rate"); err != nil {
			return pricing.Policy{}, fmt.Errorf("tier %d: %w", i, err)
		}
		if t.UpTo != "" {
			upTo, err := decimal.NewFromString(t.UpTo)
			if err != nil {
				return pricing.Policy{}, fmt.Errorf("tier %d: up_to %q: %w", i, t.UpTo, err)
			}
			tier.UpTo = &upTo
		}
		p.Tiers = append(p.Tiers, tier)
	}
	return p, nil
}

func parseAmount(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d, nil
}

// Grant is one scheduled entitlement credit: the named entitlement on the
// given ledger stops being usable at ExpiresAt.
type Grant struct {
	LedgerKey     string
	EntitlementID string
	ExpiresAt     time.Time
}

type grantsYAML struct {
	Grants []grantYAML `yaml:"grants"`
}

type grantYAML struct {
	Ledger      string `yaml:"ledger"`
	Entitlement string `yaml:"entitlement"`
	ExpiresAt   string `yaml:"expires_at"`
}

// LoadGrants reads the grant schedule used by the expiry sweeper. Grants
// come back sorted by expiry so sweep logs read chronologically.
func LoadGrants(path string) ([]Grant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read grants %s: %w", path, err)
	}

	var doc grantsYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse grants: %w", err)
	}

	grants := make([]Grant, 0, len(doc.Grants))
	for i, g := range doc.Grants {
		if g.Ledger == "" || g.Entitlement == "" {
			return nil, fmt.Errorf("catalog: grant %d: ledger and entitlement are required", i)
		}
		expires, err := time.Parse(time.RFC3339, g.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("catalog: grant %d: expires_at %q: %w", i, g.ExpiresAt, err)
		}
		grants = append(grants, Grant{
			LedgerKey:     g.Ledger,
			EntitlementID: g.Entitlement,
			ExpiresAt:     expires,
		})
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].ExpiresAt.Before(grants[j].ExpiresAt) })
	return grants, nil
}

// Store holds the active catalog behind a read lock so lookups stay cheap
// while reloads swap the whole catalog at once.
type Store struct {
	mu       sync.RWMutex
	path     string
	catalog  *Catalog
	loadedAt time.Time
}

// NewStore loads the catalog at path and keeps it for serving.
func NewStore(path string) (*Store, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, catalog: c, loadedAt: time.Now()}, nil
}

// Policy returns the pricing policy for a feature. The second return is
// false for unknown features; callers treat that as an unconfigured policy.
func (s *Store) Policy(feature string) (pricing.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.catalog.Features[feature]
	return p, ok
}

// Len reports how many features the active catalog carries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.catalog.Features)
}

// LoadedAt reports when the active catalog was last (re)loaded.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Reload re-reads the catalog file. A file that fails to parse leaves the
// previously active catalog in place.
func (s *Store) Reload() error {
	c, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.catalog = c
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}
