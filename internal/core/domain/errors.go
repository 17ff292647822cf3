package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrSchemaNotFound   = errors.New("schema not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	// Inference backend failure classes. An absent response is distinct from
	// a response whose success flag is false, and both are distinct from a
	// response whose payload cannot be decoded.
	ErrNoResponse        = errors.New("no response from inference backend")
	ErrOperationFailed   = errors.New("inference operation failed")
	ErrMalformedResponse = errors.New("malformed inference response")

	// ErrStageFailed marks a pipeline stage with no usable output at all.
	ErrStageFailed = errors.New("pipeline stage failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
