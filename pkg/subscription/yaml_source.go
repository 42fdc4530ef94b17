package subscription

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/subkit/pkg/period"
)

var ErrFailedToParseCatalog = errors.New("failed to parse plan catalog")

// catalogNamespace derives stable IDs from tags, so reseeding the same
// catalog yields the same plan and feature IDs.
var catalogNamespace = uuid.MustParse("8f0b7a52-7c1e-4f3a-9d6e-2b4c1a0e5f71")

// CatalogEntry is a plan with its combinations, as read from a catalog file.
type CatalogEntry struct {
	Plan         Plan
	Combinations []Combination
}

type yamlCatalog struct {
	Plans []yamlPlan `yaml:"plans"`
}

type yamlTerm struct {
	Length   int    `yaml:"length"`
	Interval string `yaml:"interval"`
}

type yamlPlan struct {
	Tag          string            `yaml:"tag"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Active       *bool             `yaml:"active"`
	Price        string            `yaml:"price"`
	SignupFee    string            `yaml:"signup_fee"`
	Currency     string            `yaml:"currency"`
	Tier         *int              `yaml:"tier"`
	Trial        yamlTerm          `yaml:"trial"`
	TrialMode    string            `yaml:"trial_mode"`
	Grace        yamlTerm          `yaml:"grace"`
	Invoice      yamlTerm          `yaml:"invoice"`
	SortOrder    int               `yaml:"sort_order"`
	Features     []yamlFeature     `yaml:"features"`
	Combinations []yamlCombination `yaml:"combinations"`
}

type yamlFeature struct {
	Tag         string   `yaml:"tag"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Value       string   `yaml:"value"`
	Reset       yamlTerm `yaml:"reset"`
	SortOrder   int      `yaml:"sort_order"`
}

type yamlCombination struct {
	Tag       string   `yaml:"tag"`
	Country   string   `yaml:"country"`
	Currency  string   `yaml:"currency"`
	Price     string   `yaml:"price"`
	SignupFee string   `yaml:"signup_fee"`
	Invoice   yamlTerm `yaml:"invoice"`
}

// LoadCatalogFile reads a YAML catalog from path. See ParseCatalog for the format.
func LoadCatalogFile(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseCatalog, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML plan catalog:
//
//	plans:
//	  - tag: pro
//	    name: Pro
//	    price: "19.00"
//	    currency: USD
//	    trial: {length: 14, interval: day}
//	    trial_mode: outside
//	    invoice: {length: 1, interval: month}
//	    features:
//	      - tag: api_calls
//	        value: "10000"
//	        reset: {length: 1, interval: month}
//	    combinations:
//	      - tag: pro-de-annual
//	        country: DE
//	        currency: EUR
//	        price: "190.00"
//	        invoice: {length: 12, interval: month}
//
// Prices are strings to keep them exact. Plans are active unless
// `active: false` is given. Every entry is validated.
func ParseCatalog(data []byte) ([]CatalogEntry, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrFailedToParseCatalog, err)
	}

	entries := make([]CatalogEntry, 0, len(doc.Plans))
	for _, yp := range doc.Plans {
		entry, err := yp.toEntry()
		if err != nil {
			return nil, errors.Join(ErrFailedToParseCatalog, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SeedCatalog writes entries into dst. Plans and combinations that already
// exist are skipped, so seeding is safe to repeat on every start.
func SeedCatalog(ctx context.Context, dst CatalogWriter, entries []CatalogEntry) (created int, err error) {
	for _, e := range entries {
		plan, err := dst.CreatePlan(ctx, e.Plan)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicatePlan):
			plan = e.Plan
		default:
			return created, err
		}

		for _, c := range e.Combinations {
			c.PlanID = plan.ID
			if _, err := dst.AddCombination(ctx, c); err != nil && !errors.Is(err, ErrDuplicateCombination) {
				return created, err
			}
		}
	}
	return created, nil
}

func (yp yamlPlan) toEntry() (CatalogEntry, error) {
	price, err := parseAmount(yp.Price)
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("plan %q price: %w", yp.Tag, err)
	}
	fee, err := parseAmount(yp.SignupFee)
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("plan %q signup fee: %w", yp.Tag, err)
	}
	trial, err := yp.Trial.term()
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("plan %q trial: %w", yp.Tag, err)
	}
	grace, err := yp.Grace.term()
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("plan %q grace: %w", yp.Tag, err)
	}
	invoice, err := yp.Invoice.term()
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("plan %q invoice: %w", yp.Tag, err)
	}

	plan := Plan{
		ID:          uuid.NewSHA1(catalogNamespace, []byte("plan:"+yp.Tag)),
		Tag:         yp.Tag,
		Name:        yp.Name,
		Description: yp.Description,
		Active:      yp.Active == nil || *yp.Active,
		Price:       price,
		SignupFee:   fee,
		Currency:    yp.Currency,
		Tier:        yp.Tier,
		Trial:       trial,
		TrialMode:   TrialMode(yp.TrialMode),
		Grace:       grace,
		Invoice:     invoice,
		SortOrder:   yp.SortOrder,
	}
	if plan.HasTrial() && plan.TrialMode == "" {
		plan.TrialMode = TrialOutside
	}

	for _, yf := range yp.Features {
		reset, err := yf.Reset.term()
		if err != nil {
			return CatalogEntry{}, fmt.Errorf("plan %q feature %q reset: %w", yp.Tag, yf.Tag, err)
		}
		plan.Features = append(plan.Features, Feature{
			ID:          uuid.NewSHA1(catalogNamespace, []byte("feature:"+yp.Tag+"/"+yf.Tag)),
			PlanID:      plan.ID,
			Tag:         yf.Tag,
			Name:        yf.Name,
			Description: yf.Description,
			Value:       yf.Value,
			Reset:       reset,
			SortOrder:   yf.SortOrder,
		})
	}
	if err := plan.Validate(); err != nil {
		return CatalogEntry{}, err
	}

	entry := CatalogEntry{Plan: plan}
	for _, yc := range yp.Combinations {
		combo, err := yc.toCombination(plan)
		if err != nil {
			return CatalogEntry{}, err
		}
		entry.Combinations = append(entry.Combinations, combo)
	}
	return entry, nil
}

func (yc yamlCombination) toCombination(plan Plan) (Combination, error) {
	price, err := parseAmount(yc.Price)
	if err != nil {
		return Combination{}, fmt.Errorf("combination %q price: %w", yc.Tag, err)
	}
	fee, err := parseAmount(yc.SignupFee)
	if err != nil {
		return Combination{}, fmt.Errorf("combination %q signup fee: %w", yc.Tag, err)
	}
	invoice := plan.Invoice
	if yc.Invoice.Length != 0 {
		if invoice, err = yc.Invoice.term(); err != nil {
			return Combination{}, fmt.Errorf("combination %q invoice: %w", yc.Tag, err)
		}
	}

	combo := Combination{
		ID:        uuid.NewSHA1(catalogNamespace, []byte("combination:"+yc.Tag)),
		Tag:       yc.Tag,
		PlanID:    plan.ID,
		Country:   yc.Country,
		Currency:  yc.Currency,
		Price:     price,
		SignupFee: fee,
		Invoice:   invoice,
	}
	if combo.Currency == "" {
		combo.Currency = plan.Currency
	}
	if err := combo.Validate(); err != nil {
		return Combination{}, err
	}
	return combo, nil
}

func (t yamlTerm) term() (period.Term, error) {
	if t.Length == 0 {
		return period.Term{}, nil
	}
	interval, err := period.ParseInterval(t.Interval)
	if err != nil {
		return period.Term{}, err
	}
	term := period.Term{Length: t.Length, Interval: interval}
	return term, term.Validate()
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
