// Package payment defines the charging capability invoked around subscription
// renewals.
//
// A subscription stores the name of its payment method. The Registry resolves
// that name to a Charger at renewal time:
//
//	reg := payment.NewRegistry() // "free" is always available
//	reg.Register("card", payment.ChargerFunc(func(ctx context.Context, amount decimal.Decimal, currency string) error {
//		return gateway.Charge(ctx, customerID, amount, currency)
//	}))
//
//	err := reg.Charge(ctx, sub.PaymentMethod, sub.Price, sub.Currency)
//	if errors.Is(err, payment.ErrChargeFailed) {
//		// keep the subscription unchanged
//	}
//
// A charge runs before the caller commits its own state, so a failed commit
// can be followed by a second attempt for the same renewal. Callers attach a
// stable key with WithIdempotencyKey and chargers read it with IdempotencyKey
// to let the gateway drop the duplicate. Retries and dunning are not handled here.
package payment
