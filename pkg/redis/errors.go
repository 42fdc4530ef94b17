package redis

import "errors"

var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
	ErrEmptyLockKey                 = errors.New("redis lock key is empty")
	ErrInvalidLockTTL               = errors.New("redis lock ttl must be positive")
	ErrLockNotHeld                  = errors.New("redis lock expired or taken by another holder")
)
