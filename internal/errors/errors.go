package appErrors

import (
	"errors"
	"fmt"
)

// ErrValidation and friends let callers use errors.Is against a kind
// without caring about the concrete error value.
var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrIntegrationTokenExpired = errors.New("integration token expired")
	ErrIntegrationNotConnected = errors.New("integration not connected")
	ErrExternalService         = errors.New("external service error")
	ErrProfileIncomplete       = errors.New("business profile incomplete")
	ErrInvalidState            = errors.New("invalid state")
	ErrUnauthorized            = errors.New("unauthorized")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func NewCampaignNotFound(id string) error {
	return NewNotFound("campaign", id)
}

func NewClientNotFound(id string) error {
	return NewNotFound("client", id)
}

// IntegrationTokenExpiredError means the provider refused to refresh the
// stored credentials and the user has to reconnect.
type IntegrationTokenExpiredError struct {
	Provider string
	Cause    error
}

func (e *IntegrationTokenExpiredError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s token expired, please reconnect", e.Provider)
	}
	return fmt.Sprintf("%s token expired, please reconnect: %v", e.Provider, e.Cause)
}

func (e *IntegrationTokenExpiredError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrIntegrationTokenExpired}
	}
	return []error{ErrIntegrationTokenExpired, e.Cause}
}

func NewIntegrationTokenExpired(provider string, cause error) error {
	return &IntegrationTokenExpiredError{Provider: provider, Cause: cause}
}

type IntegrationNotConnectedError struct {
	Provider string
}

func (e *IntegrationNotConnectedError) Error() string {
	return fmt.Sprintf("%s is not connected", e.Provider)
}

func (e *IntegrationNotConnectedError) Unwrap() error { return ErrIntegrationNotConnected }

func NewIntegrationNotConnected(provider string) error {
	return &IntegrationNotConnectedError{Provider: provider}
}

// ExternalServiceError wraps failures of the content generator, the mail
// provider or the scheduling provider.
type ExternalServiceError struct {
	Service string
	Cause   error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Cause)
}

func (e *ExternalServiceError) Unwrap() []error {
	return []error{ErrExternalService, e.Cause}
}

func NewExternalService(service string, cause error) error {
	return &ExternalServiceError{Service: service, Cause: cause}
}

type ProfileIncompleteError struct {
	Missing []string
}

func (e *ProfileIncompleteError) Error() string {
	if len(e.Missing) == 0 {
		return "business profile is missing"
	}
	return fmt.Sprintf("business profile incomplete, missing: %v", e.Missing)
}

func (e *ProfileIncompleteError) Unwrap() error { return ErrProfileIncomplete }

func NewProfileIncomplete(missing ...string) error {
	return &ProfileIncompleteError{Missing: missing}
}

type InvalidStateError struct {
	Message string
}

func (e *InvalidStateError) Error() string { return e.Message }

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func NewInvalidState(format string, args ...any) error {
	return &InvalidStateError{Message: fmt.Sprintf(format, args...)}
}

type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

func NewUnauthorized(message string) error {
	return &UnauthorizedError{Message: message}
}
