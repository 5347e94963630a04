package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/MediSynth-io/messagely/internal/auth"
	"github.com/MediSynth-io/messagely/internal/gate"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

type errorDetail struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// badRequestError is a client mistake in the request body.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string {
	return e.msg
}

func unauthorized(err error) error {
	return &gate.Rejection{Code: http.StatusUnauthorized, Err: err}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Status: status}})
}

// writeError maps err to a status code. Auth failures share one generic
// message so callers cannot tell an unknown user from a wrong password or a
// forbidden action from a bad token. Unrecognized errors are 500s.
func (api *Api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rejection *gate.Rejection
		badReq    *badRequestError
	)
	switch {
	case errors.As(err, &rejection):
		writeErrorBody(w, rejection.Code, http.StatusText(rejection.Code))
	case errors.As(err, &badReq):
		writeErrorBody(w, http.StatusBadRequest, badReq.msg)
	case errors.Is(err, auth.ErrPasswordTooLong):
		writeErrorBody(w, http.StatusBadRequest, err.Error())
	default:
		api.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeErrorBody(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (api *Api) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return &badRequestError{msg: "invalid JSON body"}
	}
	if err := api.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &badRequestError{msg: validationMessage(verrs[0])}
		}
		return &badRequestError{msg: "invalid request"}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "excludesall":
		return fmt.Sprintf("%s contains invalid characters", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
