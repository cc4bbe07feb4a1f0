// Package inputval validates request payloads with go-playground/validator.
//
// Structs are tagged with `validate` rules and an optional `label` used in
// messages ("Display name is required."). Handlers decode with DecodeJSON,
// which rejects unknown fields, and then call Validate.
package inputval

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dalemusser/liveplay/internal/app/system/htmlsanitize"
	"github.com/dalemusser/liveplay/internal/app/system/limits"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Display name bounds, in runes after sanitising.
const (
	MinDisplayNameRunes = 1
	MaxDisplayNameRunes = 40
)

// ErrDisplayName means a display name is empty or too long once cleaned.
var ErrDisplayName = fmt.Errorf("display name must be %d to %d characters", MinDisplayNameRunes, MaxDisplayNameRunes)

var optionKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			if label := fld.Tag.Get("label"); label != "" {
				return label
			}
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
			return IsValidObjectID(fl.Field().String())
		})
		_ = v.RegisterValidation("displayname", func(fl validator.FieldLevel) bool {
			_, err := CleanDisplayName(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("optionkey", func(fl validator.FieldLevel) bool {
			return optionKeyRe.MatchString(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// FieldError is one failed rule.
type FieldError struct {
	Field   string
	Rule    string
	Message string
}

// Result collects the failures of one Validate call.
type Result struct {
	Errors []FieldError
}

// HasErrors reports whether any rule failed.
func (r *Result) HasErrors() bool { return r != nil && len(r.Errors) > 0 }

// First returns the first message or "".
func (r *Result) First() string {
	if !r.HasErrors() {
		return ""
	}
	return r.Errors[0].Message
}

// All joins every message with "; ".
func (r *Result) All() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// Validate runs the struct's validate tags.
func Validate(v any) *Result {
	res := &Result{}
	err := instance().Struct(v)
	if err == nil {
		return res
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		res.Errors = append(res.Errors, FieldError{Message: "Input is invalid."})
		return res
	}
	for _, fe := range verrs {
		res.Errors = append(res.Errors, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return res
}

func message(fe validator.FieldError) string {
	label := fe.Field()
	switch fe.Tag() {
	case "required":
		return label + " is required."
	case "min", "gte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters.", label, fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at least %s items.", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s.", label, fe.Param())
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s items.", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s.", label, fe.Param())
	case "eq":
		return fmt.Sprintf("%s must be %s.", label, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "objectid":
		return label + " must be a valid ID."
	case "displayname":
		return fmt.Sprintf("%s must be %d to %d characters of plain text.", label, MinDisplayNameRunes, MaxDisplayNameRunes)
	case "optionkey":
		return label + " may only contain letters, digits, dashes and underscores."
	case "unique":
		return label + " must not contain duplicates."
	default:
		return label + " is invalid."
	}
}

// IsValidObjectID reports whether s (trimmed) is a 24-character hex ObjectID.
func IsValidObjectID(s string) bool {
	_, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
	return err == nil
}

// CleanDisplayName strips markup and surrounding space from raw and checks
// its length.
func CleanDisplayName(raw string) (string, error) {
	name := htmlsanitize.PlainText(raw)
	n := utf8.RuneCountInString(name)
	if n < MinDisplayNameRunes || n > MaxDisplayNameRunes {
		return "", ErrDisplayName
	}
	return name, nil
}

// DecodeJSON decodes one JSON object from body into dst, rejecting unknown
// fields and trailing data. An empty body leaves dst untouched.
func DecodeJSON(body io.Reader, dst any) error {
	dec := json.NewDecoder(io.LimitReader(body, limits.MaxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
