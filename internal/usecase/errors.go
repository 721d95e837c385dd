package usecase

import "errors"

var (
	ErrEmptyQuery     = errors.New("query must not be empty")
	ErrMissingTenant  = errors.New("tenant id is required")
	ErrEmptyInput     = errors.New("embedding input must not be blank")
	ErrTenantInactive = errors.New("tenant is not active")
	ErrJobNotFound    = errors.New("crawl job not found")
	ErrNoSeeds        = errors.New("tenant has no domains to crawl")
)

// IsContractViolation reports errors caused by invalid caller input.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrEmptyQuery) ||
		errors.Is(err, ErrMissingTenant) ||
		errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrTenantInactive) ||
		errors.Is(err, ErrNoSeeds)
}
