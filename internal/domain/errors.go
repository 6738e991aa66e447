package domain

import "errors"

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	ErrRuleNotFound           = errors.New("rule not found")
	ErrRuleConditionMalformed = errors.New("rule condition malformed")
	ErrInvalidRuleParameters  = errors.New("invalid rule parameters")
	ErrInvalidTransition      = errors.New("invalid status transition")

	ErrModelUnavailable   = errors.New("model unavailable")
	ErrRiskScoringFailure = errors.New("risk scoring failure")

	ErrBlacklistLookupFailure = errors.New("blacklist lookup failure")
	ErrAlreadyBlacklisted     = errors.New("value already blacklisted")

	ErrInsufficientPositiveSamples = errors.New("insufficient positive samples")
	ErrInsufficientNegativeSamples = errors.New("insufficient negative samples")
)
