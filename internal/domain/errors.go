package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("service not found")

	// ErrTaken is returned by stores when (uuid, realm_uuid) already exists
	// or a second "this" record is created.
	ErrTaken = errors.New("service already exists")

	// ErrRealmRequired is returned when a remote lookup is attempted without realm.
	ErrRealmRequired = errors.New("please provide a valid realm to discover an appropriate service")
)

// ConfigurationError reports that "this" or the Connector is not configured.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// ServiceError reports a client built for an unusable service.
type ServiceError struct {
	Msg string
}

func (e *ServiceError) Error() string { return e.Msg }

// ConnectorError reports a Connector response lacking expected data.
type ConnectorError struct {
	Msg string
}

func (e *ConnectorError) Error() string { return e.Msg }

// SetupError reports a bootstrap precondition or protocol violation.
type SetupError struct {
	Msg string
}

func (e *SetupError) Error() string { return e.Msg }

// SignatureError reports a failed request signature check.
type SignatureError struct {
	Msg string
}

func (e *SignatureError) Error() string {
	if e.Msg == "" {
		return "Invalid signature."
	}
	return e.Msg
}

// ConnectorErrorf builds a ConnectorError with a formatted message.
func ConnectorErrorf(format string, args ...any) *ConnectorError {
	return &ConnectorError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
