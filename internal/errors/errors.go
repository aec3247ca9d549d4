package errors

import "errors"

var (
	ErrPlatformRequired     = errors.New("target platform is required and has no default")
	ErrLockHeld             = errors.New("deployment lock is held by another release")
	ErrNoMigrations         = errors.New("no migration scripts found")
	ErrChecksumMismatch     = errors.New("applied migration checksum does not match script on disk")
	ErrPolicyDenied         = errors.New("task definition rejected by deployment policy")
	ErrServiceNotConverged  = errors.New("service did not reach steady state before deadline")
	ErrMissingConfiguration = errors.New("required pipeline configuration is missing")
)
