// Package validator wraps the go-playground/validator library,
// validation errors are translated to plain English messages.
package validator

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslation "github.com/go-playground/validator/v10/translations/en"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

type Validator interface {
	Validate(ctx context.Context, value any) error
}

type wrapper struct {
	validate   *validator.Validate
	translator ut.Translator
}

func New() Validator {
	validate := validator.New()

	enLocale := en.New()
	translator, found := ut.New(enLocale, enLocale).GetTranslator("en")
	if !found {
		panic(errors.New("en translator was not found"))
	}
	if err := enTranslation.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(errors.Errorf("translator was not registered: %w", err))
	}

	// Use JSON field names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &wrapper{validate: validate, translator: translator}
}

func (v *wrapper) Validate(ctx context.Context, value any) error {
	err := v.validate.StructCtx(ctx, value)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	errs := errors.NewMultiError()
	for _, e := range validationErrs {
		// The translated message repeats the field name, strip it.
		message := strings.TrimPrefix(strings.TrimSpace(e.Translate(v.translator)), e.Field()+" ")
		errs.Append(errors.New(fmt.Sprintf(`field "%s" %s`, e.Field(), message)))
	}
	return errs.ErrorOrNil()
}
