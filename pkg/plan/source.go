package plan

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/billingkit/pkg/money"
)

type staticSource struct {
	plans []Plan
}

// NewStaticSource returns an in-memory Source holding a deep copy of the
// given plans. Panics if no plans are provided so a service never starts
// with an empty catalog. Deep copying keeps later mutations of the
// caller's slices from leaking into the catalog.
func NewStaticSource(plans ...Plan) Source {
	if len(plans) == 0 {
		panic("at least one plan is required")
	}
	cp := make([]Plan, len(plans))
	for i, p := range plans {
		cp[i] = p.clone()
	}
	return &staticSource{plans: cp}
}

// Load returns a copy of the configured plans.
func (s *staticSource) Load(_ context.Context) ([]Plan, error) {
	cp := make([]Plan, len(s.plans))
	for i, p := range s.plans {
		cp[i] = p.clone()
	}
	return cp, nil
}

type fileSource struct {
	path string
}

// NewFileSource returns a Source reading plan definitions from a YAML
// file. The document layout:
//
//	plans:
//	  - id: starter
//	    version: 1
//	    name: Starter
//	    currency: USD
//	    prices:
//	      monthly: 999
//	      annual: 9990
//	    limits:
//	      - resource: products
//	        limit: 25
//	      - resource: storage
//	        limit: unlimited
//	    features: [api]
//	    active: true
//
// Prices are integer minor units. The active flag defaults to true when
// omitted; retired versions are kept in the file with active: false.
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

type fileDoc struct {
	Plans []filePlan `yaml:"plans"`
}

type filePlan struct {
	ID          string     `yaml:"id"`
	Version     int        `yaml:"version"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Currency    string     `yaml:"currency"`
	Prices      filePrices `yaml:"prices"`
	Limits      Limits     `yaml:"limits"`
	Features    []Feature  `yaml:"features"`
	Active      *bool      `yaml:"active"`
}

type filePrices struct {
	Monthly int64 `yaml:"monthly"`
	Annual  int64 `yaml:"annual"`
}

// Load parses the YAML file into plan definitions.
func (s *fileSource) Load(_ context.Context) ([]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plan file %s: %w", s.path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", s.path, err)
	}

	plans := make([]Plan, 0, len(doc.Plans))
	for _, fp := range doc.Plans {
		monthly, err := money.New(fp.Prices.Monthly, fp.Currency)
		if err != nil {
			return nil, fmt.Errorf("plan %q: %w", fp.ID, err)
		}
		annual, err := money.New(fp.Prices.Annual, fp.Currency)
		if err != nil {
			return nil, fmt.Errorf("plan %q: %w", fp.ID, err)
		}
		active := true
		if fp.Active != nil {
			active = *fp.Active
		}
		plans = append(plans, Plan{
			ID:           fp.ID,
			Version:      fp.Version,
			Name:         fp.Name,
			Description:  fp.Description,
			MonthlyPrice: monthly,
			AnnualPrice:  annual,
			Limits:       fp.Limits,
			Features:     fp.Features,
			Active:       active,
		})
	}
	return plans, nil
}
