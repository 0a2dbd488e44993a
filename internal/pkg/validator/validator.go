// Package validator wraps go-playground/validator for the structs that cross
// a trust boundary: server lists from the environment, wallet accounts and the
// replies decoded from Electrum servers.
//
// Failures are reported as one error per field, joined under
// ErrValidationFailed. Fields carrying a json tag are reported by their wire
// name, so a bad reply reads "'tx_pos'" rather than "'TxPos'".
//
// Besides the stock tags, the package registers:
//
//	electrum_endpoint   an absolute URL with a host and one of the schemes tcp, tls, http or https
package validator

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	gvalidator "github.com/go-playground/validator/v10"
)

// ErrValidationFailed is returned as the first error in a multi-error chain when validation fails.
//
// Callers match it with errors.Is; the field messages follow it in the chain.
var ErrValidationFailed = errors.New("struct validation failed")

// validator is the shared instance, built on package load with the custom
// tags registered.
var validator *gvalidator.Validate

// errStringFormat describes one failing field.
//
// Example: "'tx_pos': value '4294967296' does not meet the requirements for the 'max' validation"
const errStringFormat = "'%s': value '%v' does not meet the requirements for the '%s' validation"

// endpointSchemes are the transports an Electrum endpoint may use.
var endpointSchemes = map[string]struct{}{
	"tcp":   {},
	"tls":   {},
	"http":  {},
	"https": {},
}

func init() {
	validator = gvalidator.New(gvalidator.WithRequiredStructEnabled())
	validator.RegisterTagNameFunc(wireName)

	if err := validator.RegisterValidation("electrum_endpoint", isElectrumEndpoint); err != nil {
		panic(fmt.Sprintf("validator: register electrum_endpoint: %v", err))
	}
}

// wireName reports a field by its json name when it has one.
func wireName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

func isElectrumEndpoint(fl gvalidator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}

	_, ok := endpointSchemes[strings.ToLower(u.Scheme)]
	return ok
}

// formatError turns validator field errors into a combined error rooted at
// ErrValidationFailed. Anything else, such as passing a non-struct, is returned unchanged.
func formatError(err error) error {
	var validationErrors gvalidator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	errs := make([]error, 0, len(validationErrors)+1)
	errs = append(errs, ErrValidationFailed)
	for _, fieldErr := range validationErrors {
		errs = append(errs, fmt.Errorf(errStringFormat, fieldErr.Field(), fieldErr.Value(), fieldErr.Tag()))
	}

	return errors.Join(errs...)
}

// Validate checks v against its validate tags.
//
// It returns nil when every field passes. Otherwise the error wraps
// ErrValidationFailed plus one message per failing field:
//
//	if err := validator.Validate(coin); errors.Is(err, validator.ErrValidationFailed) {
//	    // reject the configuration entry
//	}
func Validate(v any) error {
	if err := validator.Struct(v); err != nil {
		return formatError(err)
	}

	return nil
}
