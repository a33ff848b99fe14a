package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/alphacombiner/internal/inspect"
	"github.com/samcharles93/alphacombiner/pkg/bam"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Block   *int   `json:"block,omitempty"`
	Offset  *int   `json:"offset,omitempty"`
}

type errorBody struct {
	Error ResponseError `json:"error"`
}

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := inspect.Marshal(v, false)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, b)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return writeJSON(c, status, errorBody{Error: ResponseError{
		Message: msg,
		Type:    errType,
		Code:    code,
	}})
}

func writeBodyError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", err.Error(), "body_too_large")
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	default:
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "read body: "+err.Error(), "")
	}
}

// writeFormatError maps container decode failures to 422 with the sentinel
// as the error code.
func writeFormatError(c *echo.Context, err error) error {
	body := ResponseError{Message: err.Error(), Type: "format_error", Code: formatCode(err)}
	var fe *bam.FormatError
	if errors.As(err, &fe) {
		block, offset := fe.Block, fe.Offset
		if block >= 0 {
			body.Block = &block
		}
		if offset >= 0 {
			body.Offset = &offset
		}
	}
	if errors.Is(err, bam.ErrUnsupportedVersion) {
		body.Type = "invalid_request_error"
		return writeJSON(c, http.StatusBadRequest, errorBody{Error: body})
	}
	return writeJSON(c, http.StatusUnprocessableEntity, errorBody{Error: body})
}

func formatCode(err error) string {
	codes := []struct {
		err  error
		code string
	}{
		{bam.ErrBadMagic, "bad_magic"},
		{bam.ErrTruncatedStream, "truncated_stream"},
		{bam.ErrUnknownOpcode, "unknown_opcode"},
		{bam.ErrHandleRecursionTooDeep, "handle_recursion_too_deep"},
		{bam.ErrUnresolvedHandle, "unresolved_handle"},
		{bam.ErrUnsupportedVersion, "unsupported_version"},
		{bam.ErrPointerOverflow, "pointer_overflow"},
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
