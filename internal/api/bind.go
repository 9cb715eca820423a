package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

const maxBodyBytes = 64 << 10

// validation is the shared validator with English messages keyed by json
// field names.
type validation struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	validationOnce sync.Once
	shared         *validation
)

func getValidation() *validation {
	validationOnce.Do(func() {
		loc := en.New()
		trans, _ := ut.New(loc, loc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = entranslations.RegisterDefaultTranslations(v, trans)

		shared = &validation{validate: v, translator: trans}
	})
	return shared
}

// decodeJSON reads one JSON object from r into T and validates it. Errors
// are client errors and safe to return verbatim.
func decodeJSON[T any](r *http.Request) (T, error) {
	var zero, dst T

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return zero, errors.New("empty body")
		}
		return zero, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return zero, errors.New("unexpected trailing data")
	}

	v := getValidation()
	if err := v.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Translate(v.translator))
			}
			return zero, errors.New(strings.Join(msgs, "; "))
		}
		return zero, err
	}
	return dst, nil
}
