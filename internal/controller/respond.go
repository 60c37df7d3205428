package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/auth"
	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind to its HTTP status. Unknown errors are
// logged and reported as 500 without leaking details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := map[string]any{"error": err.Error()}
	status := http.StatusInternalServerError

	var vErr *appErrors.ValidationError
	var expired *appErrors.IntegrationTokenExpiredError
	var notConnected *appErrors.IntegrationNotConnectedError
	var incomplete *appErrors.ProfileIncompleteError

	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
		if vErr.Field != "" {
			body["field"] = vErr.Field
		}
	case errors.As(err, &expired):
		status = http.StatusUnauthorized
		body["error"] = fmt.Sprintf("%s token expired, please reconnect", expired.Provider)
		body["provider"] = expired.Provider
		body["reconnect_required"] = true
	case errors.Is(err, appErrors.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, appErrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &notConnected):
		status = http.StatusConflict
		body["provider"] = notConnected.Provider
	case errors.Is(err, appErrors.ErrInvalidState):
		status = http.StatusConflict
	case errors.As(err, &incomplete):
		status = http.StatusUnprocessableEntity
		body["missing_fields"] = incomplete.Missing
	case errors.Is(err, appErrors.ErrExternalService):
		status = http.StatusBadGateway
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		if status == http.StatusInternalServerError {
			body["error"] = "internal server error"
		}
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into dst and runs struct validation on it.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints where every field is optional and
// the body may be absent.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	if r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(dst); err != nil && !(optional && errors.Is(err, io.EOF)) {
			return appErrors.NewValidation("body", "invalid request body: "+err.Error())
		}
	} else if !optional {
		return appErrors.NewValidation("body", "request body is required")
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return appErrors.NewValidation(fe.Field(), describeTag(fe))
		}
		return appErrors.NewValidation("body", err.Error())
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}

// businessID is set by auth.Middleware on every authenticated route.
func businessID(r *http.Request) string {
	id, _ := auth.BusinessIDFromContext(r.Context())
	return id
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}
