package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/DukeRupert/kerf/internal/auth"
	"github.com/DukeRupert/kerf/internal/domain"
)

// maxBodyBytes bounds JSON request bodies on the API routes.
const maxBodyBytes = 64 << 10

// validate is shared by all handlers. Field errors are reported by their
// JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("feature", func(fl validator.FieldLevel) bool {
		return domain.Feature(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
		return domain.Tier(fl.Field().String()).Valid()
	})
	return v
}

// decodeJSON reads a single JSON object into dst. The returned error is a
// *domain.Error ready for ErrorResponse.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return domain.Errorf(domain.ETOOLARGE, op, "Request body is too large")
		case errors.Is(err, io.EOF):
			return domain.Invalid(op, "Request body is required")
		default:
			return domain.Invalid(op, fmt.Sprintf("Malformed JSON: %v", err))
		}
	}
	if dec.More() {
		return domain.Invalid(op, "Request body must contain a single JSON object")
	}
	return nil
}

// actingUser fills *userID from X-User-ID when the body left it empty. When
// both are present they must name the same user, so a caller acting for one
// user cannot spend or read another user's quota.
func actingUser(r *http.Request, op string, userID *string) error {
	acting := auth.GetUserIDFromRequest(r)
	switch {
	case acting == "":
		return nil
	case *userID == "":
		*userID = acting
		return nil
	case *userID != acting:
		return domain.Forbidden(op, "user_id does not match the acting user")
	}
	return nil
}

// validateStruct runs the struct tags of v and converts failures into a
// field-keyed ValidationError.
func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.Invalid(op, err.Error())
	}

	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		ve.Fields[fe.Field()] = fieldMessage(fe)
	}
	return ve
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "feature":
		return "is not a metered feature"
	case "tier":
		return "is not a known tier"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url", "http_url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}
