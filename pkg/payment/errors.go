package payment

import "errors"

var (
	ErrUnknownMethod = errors.New("unknown payment method")
	ErrChargeFailed  = errors.New("payment charge failed")
)
