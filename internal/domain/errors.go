package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidAddress is returned when an Ethereum address is invalid
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnknownNetwork is returned when a network is not configured
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrArtifactNotFound is returned when an artifact reference does not resolve
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrMalformedArtifact is returned when an artifact has missing or inconsistent layout metadata
	ErrMalformedArtifact = errors.New("malformed artifact")

	// ErrProxyNotFound is returned when the registry has no record for a proxy
	ErrProxyNotFound = errors.New("proxy not found")

	// ErrImplementationUnresolvable is returned when the deployed implementation's layout cannot be determined
	ErrImplementationUnresolvable = errors.New("implementation unresolvable")

	// ErrIncompatibleUpgrade is returned when the new storage layout is not compatible with the deployed one
	ErrIncompatibleUpgrade = errors.New("incompatible upgrade")

	// ErrUnauthorized is returned when the signer is not the proxy admin
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUpgradeTransactionFailed is returned when a deployment or upgrade transaction was rejected or reverted
	ErrUpgradeTransactionFailed = errors.New("upgrade transaction failed")

	// ErrTimedOutAwaitingConfirmation is returned when a submitted transaction was not confirmed in time
	ErrTimedOutAwaitingConfirmation = errors.New("timed out awaiting confirmation")

	// ErrStaleRecord is returned when the registry record no longer matches the expected state
	ErrStaleRecord = errors.New("stale record")

	// ErrUpgradePending is returned when a proxy already has an unresolved pending upgrade
	ErrUpgradePending = errors.New("upgrade pending")

	// ErrCancelled is returned when the operator declines a confirmation prompt
	ErrCancelled = errors.New("cancelled")
)

// MalformedArtifactError describes why an artifact's layout metadata was rejected.
type MalformedArtifactError struct {
	Artifact string
	Reason   string
}

func (e *MalformedArtifactError) Error() string {
	return fmt.Sprintf("malformed artifact %s: %s", e.Artifact, e.Reason)
}

func (e *MalformedArtifactError) Unwrap() error { return ErrMalformedArtifact }

// IncompatibleUpgradeError carries the violations that blocked an upgrade.
type IncompatibleUpgradeError struct {
	Proxy      common.Address
	Violations []models.Violation
}

func (e *IncompatibleUpgradeError) Error() string {
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, "  - "+v.String())
	}
	return fmt.Sprintf("incompatible upgrade for proxy %s (%d violation(s)):\n%s",
		e.Proxy.Hex(), len(e.Violations), strings.Join(lines, "\n"))
}

func (e *IncompatibleUpgradeError) Unwrap() error { return ErrIncompatibleUpgrade }

// UnauthorizedError reports a signer that does not match the proxy admin.
type UnauthorizedError struct {
	Signer common.Address
	Admin  common.Address
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("signer %s is not the proxy admin %s", e.Signer.Hex(), e.Admin.Hex())
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// UpgradeTransactionFailedError reports a rejected or reverted transaction.
type UpgradeTransactionFailedError struct {
	Stage  string
	Tx     *models.TxHandle
	Reason string
}

func (e *UpgradeTransactionFailedError) Error() string {
	if e.Tx != nil {
		return fmt.Sprintf("%s transaction %s failed: %s", e.Stage, e.Tx.Hash.Hex(), e.Reason)
	}
	return fmt.Sprintf("%s transaction failed: %s", e.Stage, e.Reason)
}

func (e *UpgradeTransactionFailedError) Unwrap() error { return ErrUpgradeTransactionFailed }

// TimedOutAwaitingConfirmationError is not terminal: the transaction may still confirm.
type TimedOutAwaitingConfirmationError struct {
	Tx *models.TxHandle
}

func (e *TimedOutAwaitingConfirmationError) Error() string {
	if e.Tx == nil {
		return "timed out submitting upgrade transaction; run reconcile before retrying"
	}
	return fmt.Sprintf("timed out awaiting confirmation of %s; run reconcile to resolve", e.Tx.Hash.Hex())
}

func (e *TimedOutAwaitingConfirmationError) Unwrap() error { return ErrTimedOutAwaitingConfirmation }

// StaleRecordError reports a mismatch between the expected and observed implementation.
type StaleRecordError struct {
	Proxy    common.Address
	Expected common.Address
	Actual   common.Address
	Reason   string
}

func (e *StaleRecordError) Error() string {
	return fmt.Sprintf("stale record for proxy %s: expected implementation %s, found %s (%s)",
		e.Proxy.Hex(), e.Expected.Hex(), e.Actual.Hex(), e.Reason)
}

func (e *StaleRecordError) Unwrap() error { return ErrStaleRecord }

// UpgradePendingError reports an unresolved earlier attempt.
type UpgradePendingError struct {
	Proxy   common.Address
	Pending common.Address
	Tx      *models.TxHandle
}

func (e *UpgradePendingError) Error() string {
	msg := fmt.Sprintf("proxy %s has a pending upgrade to %s", e.Proxy.Hex(), e.Pending.Hex())
	if e.Tx != nil {
		msg += fmt.Sprintf(" (tx %s)", e.Tx.Hash.Hex())
	}
	return msg + "; run reconcile first"
}

func (e *UpgradePendingError) Unwrap() error { return ErrUpgradePending }

// ArtifactNotFoundError includes close matches for the missing reference.
type ArtifactNotFoundError struct {
	Ref         string
	Suggestions []string
}

func (e *ArtifactNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("artifact %q not found", e.Ref)
	}
	return fmt.Sprintf("artifact %q not found, did you mean: %s", e.Ref, strings.Join(e.Suggestions, ", "))
}

func (e *ArtifactNotFoundError) Unwrap() error { return ErrArtifactNotFound }
