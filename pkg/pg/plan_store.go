package pg

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

const planColumns = `id, tag, name, description, is_active, price::text, signup_fee::text, currency, tier,
	trial_period, trial_interval, trial_mode, grace_period, grace_interval,
	invoice_period, invoice_interval, sort_order`

const combinationColumns = `id, tag, plan_id, country, currency, price::text, signup_fee::text,
	invoice_period, invoice_interval`

// CreatePlan inserts p with its features. Missing IDs are generated.
// Fails with subscription.ErrDuplicatePlan when the tag is taken.
func (s *Store) CreatePlan(ctx context.Context, p subscription.Plan) (subscription.Plan, error) {
	if err := p.Validate(); err != nil {
		return subscription.Plan{}, err
	}

	p.Features = slices.Clone(p.Features)
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for i := range p.Features {
		if p.Features[i].ID == uuid.Nil {
			p.Features[i].ID = uuid.New()
		}
		p.Features[i].PlanID = p.ID
	}

	b := &pgx.Batch{}
	b.Queue(`INSERT INTO plans (id, tag, name, description, is_active, price, signup_fee, currency, tier,
		trial_period, trial_interval, trial_mode, grace_period, grace_interval,
		invoice_period, invoice_interval, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.Tag, p.Name, p.Description, p.Active, numeric(p.Price), numeric(p.SignupFee), p.Currency, p.Tier,
		p.Trial.Length, string(p.Trial.Interval), string(p.TrialMode), p.Grace.Length, string(p.Grace.Interval),
		p.Invoice.Length, string(p.Invoice.Interval), p.SortOrder,
	)
	for _, f := range p.Features {
		b.Queue(`INSERT INTO plan_features (id, plan_id, tag, name, description, value,
			resettable_period, resettable_interval, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			f.ID, f.PlanID, f.Tag, f.Name, f.Description, f.Value,
			f.Reset.Length, string(f.Reset.Interval), f.SortOrder,
		)
	}

	err := s.Tx(ctx, func(ctx context.Context) error {
		return execBatch(ctx, s.db(ctx), b)
	})
	if err != nil {
		return subscription.Plan{}, fmt.Errorf("create plan %q: %w", p.Tag, classify(err, nil, subscription.ErrDuplicatePlan))
	}
	return p, nil
}

// AddCombination inserts a combination of an existing plan and returns it
// with its parent plan filled in.
func (s *Store) AddCombination(ctx context.Context, c subscription.Combination) (subscription.Combination, error) {
	if err := c.Validate(); err != nil {
		return subscription.Combination{}, err
	}
	if c.PlanID == uuid.Nil {
		c.PlanID = c.Plan.ID
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	_, err := s.db(ctx).Exec(ctx, `INSERT INTO plan_combinations (id, tag, plan_id, country, currency,
		price, signup_fee, invoice_period, invoice_interval)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8, $9)`,
		c.ID, c.Tag, c.PlanID, c.Country, c.Currency, numeric(c.Price), numeric(c.SignupFee),
		c.Invoice.Length, string(c.Invoice.Interval),
	)
	switch {
	case IsForeignKeyViolationError(err):
		return subscription.Combination{}, fmt.Errorf("%w: id %s", subscription.ErrPlanNotFound, c.PlanID)
	case err != nil:
		return subscription.Combination{}, fmt.Errorf("add combination %q: %w", c.Tag, classify(err, nil, subscription.ErrDuplicateCombination))
	}

	plan, err := s.PlanByID(ctx, c.PlanID)
	if err != nil {
		return subscription.Combination{}, err
	}
	c.Plan = plan
	return c, nil
}

// ActivatePlan opens the plan for new subscriptions.
func (s *Store) ActivatePlan(ctx context.Context, tag string) error {
	return s.setActive(ctx, tag, true)
}

// DeactivatePlan closes the plan for new subscriptions.
func (s *Store) DeactivatePlan(ctx context.Context, tag string) error {
	return s.setActive(ctx, tag, false)
}

func (s *Store) setActive(ctx context.Context, tag string, active bool) error {
	res, err := s.db(ctx).Exec(ctx, `UPDATE plans SET is_active = $2, updated_at = now() WHERE tag = $1`, tag, active)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", subscription.ErrPlanNotFound, tag)
	}
	return nil
}

// Plans lists every plan ordered by sort order, then tag.
func (s *Store) Plans(ctx context.Context) ([]subscription.Plan, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY sort_order, tag`)
	if err != nil {
		return nil, err
	}
	plans, err := pgx.CollectRows(rows, scanPlan)
	if err != nil {
		return nil, err
	}
	if err := s.attachPlanFeatures(ctx, plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Store) Plan(ctx context.Context, tag string) (subscription.Plan, error) {
	return s.onePlan(ctx, `SELECT `+planColumns+` FROM plans WHERE tag = $1`, tag)
}

func (s *Store) PlanByID(ctx context.Context, id uuid.UUID) (subscription.Plan, error) {
	return s.onePlan(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
}

func (s *Store) Combination(ctx context.Context, tag string) (subscription.Combination, error) {
	rows, err := s.db(ctx).Query(ctx, `SELECT `+combinationColumns+` FROM plan_combinations WHERE tag = $1`, tag)
	if err != nil {
		return subscription.Combination{}, err
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCombination)
	if err != nil {
		return subscription.Combination{}, fmt.Errorf("%w: %q", classify(err, subscription.ErrCombinationNotFound, nil), tag)
	}

	if c.Plan, err = s.PlanByID(ctx, c.PlanID); err != nil {
		return subscription.Combination{}, err
	}
	return c, nil
}

func (s *Store) onePlan(ctx context.Context, query string, arg any) (subscription.Plan, error) {
	rows, err := s.db(ctx).Query(ctx, query, arg)
	if err != nil {
		return subscription.Plan{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPlan)
	if err != nil {
		return subscription.Plan{}, fmt.Errorf("%w: %v", classify(err, subscription.ErrPlanNotFound, nil), arg)
	}

	plans := []subscription.Plan{p}
	if err := s.attachPlanFeatures(ctx, plans); err != nil {
		return subscription.Plan{}, err
	}
	return plans[0], nil
}

func (s *Store) attachPlanFeatures(ctx context.Context, plans []subscription.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(plans))
	index := make(map[uuid.UUID]int, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := s.db(ctx).Query(ctx, `SELECT id, plan_id, tag, name, description, value,
		resettable_period, resettable_interval, sort_order
		FROM plan_features WHERE plan_id = ANY($1) ORDER BY sort_order, tag`, ids)
	if err != nil {
		return err
	}
	features, err := pgx.CollectRows(rows, scanPlanFeature)
	if err != nil {
		return err
	}
	for _, f := range features {
		i := index[f.PlanID]
		plans[i].Features = append(plans[i].Features, f)
	}
	return nil
}

func scanPlan(row pgx.CollectableRow) (subscription.Plan, error) {
	var (
		p                                    subscription.Plan
		price, fee, trialInterval            string
		graceInterval, invoiceInterval, mode string
		trialLen, graceLen, invoiceLen       int
	)
	err := row.Scan(&p.ID, &p.Tag, &p.Name, &p.Description, &p.Active, &price, &fee, &p.Currency, &p.Tier,
		&trialLen, &trialInterval, &mode, &graceLen, &graceInterval,
		&invoiceLen, &invoiceInterval, &p.SortOrder)
	if err != nil {
		return subscription.Plan{}, err
	}
	if p.Price, err = parseNumeric(price); err != nil {
		return subscription.Plan{}, err
	}
	if p.SignupFee, err = parseNumeric(fee); err != nil {
		return subscription.Plan{}, err
	}
	p.Trial = term(trialLen, trialInterval)
	p.TrialMode = subscription.TrialMode(mode)
	p.Grace = term(graceLen, graceInterval)
	p.Invoice = term(invoiceLen, invoiceInterval)
	return p, nil
}

func scanPlanFeature(row pgx.CollectableRow) (subscription.Feature, error) {
	var (
		f         subscription.Feature
		resetLen  int
		resetUnit string
	)
	err := row.Scan(&f.ID, &f.PlanID, &f.Tag, &f.Name, &f.Description, &f.Value, &resetLen, &resetUnit, &f.SortOrder)
	if err != nil {
		return subscription.Feature{}, err
	}
	f.Reset = term(resetLen, resetUnit)
	return f, nil
}

func scanCombination(row pgx.CollectableRow) (subscription.Combination, error) {
	var (
		c               subscription.Combination
		price, fee      string
		invoiceLen      int
		invoiceInterval string
	)
	err := row.Scan(&c.ID, &c.Tag, &c.PlanID, &c.Country, &c.Currency, &price, &fee, &invoiceLen, &invoiceInterval)
	if err != nil {
		return subscription.Combination{}, err
	}
	if c.Price, err = parseNumeric(price); err != nil {
		return subscription.Combination{}, err
	}
	if c.SignupFee, err = parseNumeric(fee); err != nil {
		return subscription.Combination{}, err
	}
	c.Invoice = term(invoiceLen, invoiceInterval)
	return c, nil
}
