package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Container errors
	ErrContainerNotFound     = errors.New("container not found")
	ErrContainerNameConflict = errors.New("container name already in use")
	ErrImageNotFound         = errors.New("image not found")

	// Runtime errors
	ErrUnsupportedRuntime = errors.New("unsupported runtime")
	ErrRuntimeUnreachable = errors.New("container runtime unreachable")

	// Naming and discovery errors
	ErrPortUnknown     = errors.New("no declared or conventional port")
	ErrInvalidName     = errors.New("invalid name component")
	ErrDiscoveryFailed = errors.New("service discovery failed")
	ErrHostNotFound    = errors.New("host not found")

	// Backup errors
	ErrInvalidSchedule     = errors.New("invalid cron schedule")
	ErrUnsupportedService  = errors.New("unsupported service kind")
	ErrBackupVerification  = errors.New("backup verification failed")
	ErrCertificateRenewal  = errors.New("certificate issuance failed")
	ErrCertificateNotFound = errors.New("certificate not found")

	// Upload errors
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrTransferIncomplete = errors.New("transfer incomplete")
	ErrChunkHashMismatch  = errors.New("chunk hash mismatch")
	ErrInvalidChunk       = errors.New("invalid chunk metadata")

	// Lock errors
	ErrLockNotAcquired = errors.New("lock held by another owner")
	ErrLockLost        = errors.New("lock ownership lost")

	// Agent errors
	ErrUnauthorized = errors.New("unauthorized")

	// Config errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConfigLoadFailed = errors.New("failed to load configuration")
	ErrJobAlreadyActive = errors.New("job already running on this host")
)

// DiscoveryAttempt records one locator strategy that was tried.
type DiscoveryAttempt struct {
	Strategy DiscoveryStrategy
	Address  string
	Err      error
}

// DiscoveryError is returned when no locator strategy produced a reachable endpoint.
type DiscoveryError struct {
	Service  string
	Attempts []DiscoveryAttempt
}

func (e *DiscoveryError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		msg := "unreachable"
		if a.Err != nil {
			msg = a.Err.Error()
		}
		if a.Address != "" {
			parts = append(parts, fmt.Sprintf("%s(%s): %s", a.Strategy, a.Address, msg))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, msg))
		}
	}
	return fmt.Sprintf("discover %s: no strategy succeeded [%s]", e.Service, strings.Join(parts, "; "))
}

func (e *DiscoveryError) Unwrap() error { return ErrDiscoveryFailed }

// Strategies lists the attempted strategies in order.
func (e *DiscoveryError) Strategies() []DiscoveryStrategy {
	out := make([]DiscoveryStrategy, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Strategy)
	}
	return out
}

// AgentAuthError is returned when the node agent rejects the API key.
type AgentAuthError struct {
	Host string
}

func (e *AgentAuthError) Error() string {
	return fmt.Sprintf("agent %s: bad or missing API key", e.Host)
}

func (e *AgentAuthError) Unwrap() error { return ErrUnauthorized }

// AgentOperationError carries the runtime's own error text back to the caller.
type AgentOperationError struct {
	Operation string
	Output    string
	ExitCode  int
	Err       error
}

func (e *AgentOperationError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s failed: %s", e.Operation, e.Output)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
	}
	return e.Operation + " failed"
}

func (e *AgentOperationError) Unwrap() error { return e.Err }

// BackupVerificationError marks an artifact that was produced but failed validation.
// The artifact is retained at Path for inspection.
type BackupVerificationError struct {
	Service string
	Path    string
	Reason  string
}

func (e *BackupVerificationError) Error() string {
	return fmt.Sprintf("backup of %s failed verification (kept at %s): %s", e.Service, e.Path, e.Reason)
}

func (e *BackupVerificationError) Unwrap() error { return ErrBackupVerification }

// CertificateRenewalError is returned when issuance or renewal of one domain failed.
// The certificate on disk is left unchanged.
type CertificateRenewalError struct {
	Domain string
	Action CertificateAction
	Err    error
}

func (e *CertificateRenewalError) Error() string {
	return fmt.Sprintf("%s certificate for %s: %v", e.Action, e.Domain, e.Err)
}

func (e *CertificateRenewalError) Unwrap() []error { return []error{ErrCertificateRenewal, e.Err} }

// LockLostError means the caller no longer owns the lock and must abort its critical section.
type LockLostError struct {
	Key    string
	LockID string
	Err    error
}

func (e *LockLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lock %s (%s) lost: %v", e.Key, e.LockID, e.Err)
	}
	return fmt.Sprintf("lock %s (%s) lost", e.Key, e.LockID)
}

func (e *LockLostError) Unwrap() error { return ErrLockLost }
