package deployment

import (
	"errors"
	"fmt"
)

const (
	StepCreateApp    = "create_app"
	StepSetConfig    = "set_config_vars"
	StepTriggerBuild = "trigger_build"
	// StepRecord is the local record-and-charge step that runs after every platform call succeeded.
	StepRecord       = "record_and_charge"
)

// ExternalError reports a failed call to the hosting platform.
// It matches ErrExternalProvisioningFailed with errors.Is.
type ExternalError struct {
	Step       string
	StatusCode int
	Detail     string
	Err        error
}

type httpStatusCarrier interface {
	HTTPStatus() int
}

func newExternalError(step string, err error) *ExternalError {
	externalError := &ExternalError{Step: step, Detail: err.Error(), Err: err}
	var carrier httpStatusCarrier
	if errors.As(err, &carrier) {
		externalError.StatusCode = carrier.HTTPStatus()
	}
	return externalError
}

// Error returns the formatted message.
func (externalError *ExternalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrExternalProvisioningFailed, externalError.Step, externalError.Err)
}

// Unwrap exposes both the class and the underlying cause.
func (externalError *ExternalError) Unwrap() []error {
	return []error{ErrExternalProvisioningFailed, externalError.Err}
}
