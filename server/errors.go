package server

import (
	"net/http"

	"github.com/flanksource/commons/logger"
	"github.com/labstack/echo/v4"

	"github.com/nittaya1990/spiced/errcode"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler maps error codes to HTTP statuses and renders a stable
// JSON error envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := errcode.Code(err)
	status := errcode.HTTPStatus(code)

	// Echo's own errors (404 on unknown routes etc) keep their status.
	if httpErr, ok := err.(*echo.HTTPError); ok {
		status = httpErr.Code
		code = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	if writeErr := c.JSON(status, errorBody{Error: errorDetail{Code: code, Message: err.Error()}}); writeErr != nil {
		logger.Errorf("failed to write error response: %v", writeErr)
	}
}
