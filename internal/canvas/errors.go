package canvas

import (
	"errors"
	"strings"
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeLayerNotFound    = "LAYER_NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeImportFailed     = "IMPORT_FAILED"
)

// OpError is the structured failure returned by canvas mutators. The state is
// unchanged whenever one is returned.
type OpError struct {
	Code     string
	Messages []string
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Messages) == 0 {
		return e.Code
	}
	return e.Code + ": " + strings.Join(e.Messages, "; ")
}

func opError(code string, messages ...string) *OpError {
	return &OpError{Code: code, Messages: messages}
}

// IsCode reports whether err is an OpError carrying code.
func IsCode(err error, code string) bool {
	var opErr *OpError
	return errors.As(err, &opErr) && opErr.Code == code
}
