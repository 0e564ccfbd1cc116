package custom_errors

import (
	"errors"
	"fmt"
)

// ValidationError collects every invalid option found while building a configuration.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("invalid configuration: %v", errors.Join(c.Errors...))
}

func (c *ValidationError) Unwrap() []error {
	return c.Errors
}
