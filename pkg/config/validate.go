package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/ratelimit"
)

func newValidator() *validator.Validate {
	validate := validator.New()

	// report yaml paths (llm.max_iterations) rather than Go field names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("analysismode", func(fl validator.FieldLevel) bool {
		return models.AnalysisMode(fl.Field().String()).Valid()
	})

	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "debug", "info", "warn", "warning", "error":
			return true
		}
		return false
	})

	_ = validate.RegisterValidation("logformat", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "json", "console", "text":
			return true
		}
		return false
	})

	_ = validate.RegisterValidation("rate", func(fl validator.FieldLevel) bool {
		_, err := ratelimit.ParseRate(fl.Field().String())
		return err == nil
	})

	return validate
}

// Validate checks if the configuration is valid. The first failing field
// is returned as a *models.ValidationError.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return fmt.Errorf("configuration validation error: %w", err)
	}

	e := errs[0]
	return &models.ValidationError{
		Field:   fieldPath(e.Namespace()),
		Message: describe(e),
	}
}

// fieldPath strips the root struct name: Config.llm.backend -> llm.backend
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of: %s (got %q)", strings.ReplaceAll(e.Param(), " ", ", "), fmt.Sprint(e.Value()))
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "required":
		return "is required"
	case "url":
		return fmt.Sprintf("must be a URL (got %q)", fmt.Sprint(e.Value()))
	case "analysismode":
		return "must be 'quick', 'standard', or 'deep'"
	case "loglevel":
		return "must be 'debug', 'info', 'warn', or 'error'"
	case "logformat":
		return "must be 'json' or 'console'"
	case "rate":
		return fmt.Sprintf("must be a rate such as 512K or 10M (got %q)", fmt.Sprint(e.Value()))
	}
	return fmt.Sprintf("failed %s validation", e.Tag())
}
