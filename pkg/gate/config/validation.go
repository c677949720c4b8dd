package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their YAML key so messages match the config file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("secretref", func(fl validator.FieldLevel) bool {
		return IsSecretRef(fl.Field().String())
	})

	return v
}

// IsSecretRef reports whether ref is a supported client secret reference.
func IsSecretRef(ref string) bool {
	switch {
	case strings.HasPrefix(ref, "arn:aws:secretsmanager:"):
		return true
	case strings.HasPrefix(ref, "env:"):
		return len(ref) > len("env:")
	case strings.HasPrefix(ref, "file:"):
		return len(ref) > len("file:")
	default:
		return false
	}
}

// Validate checks the configuration and returns a *ValidationError listing
// every problem, or nil.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config: validation failed: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(describe(fe))
		}
	}

	if c.BRP.Endpoint != "" && validate.Var(c.BRP.Endpoint, "url") != nil {
		verr.add(fmt.Sprintf("brp.endpoint must be an absolute URL, got %q", c.BRP.Endpoint))
	}

	if c.Session.Store.Namespace == "" {
		verr.add("session.store.namespace is required")
	}
	switch c.Session.Store.Type {
	case "", "memory", "leveldb":
	case "redis":
		if c.Session.Store.Redis.Addr == "" {
			verr.add("session.store.redis.addr is required for the redis store")
		}
	default:
		verr.add(fmt.Sprintf("session.store.type %q is not supported (memory, leveldb, redis)", c.Session.Store.Type))
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// describe turns a field error into a message using the dotted YAML path,
// e.g. "oidc.client_id is required".
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return ns + " is required"
	case "required_without":
		return fmt.Sprintf("%s is required when %s is not set", ns, yamlName(fe.Param()))
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", ns, yamlName(fe.Param()))
	case "url":
		return fmt.Sprintf("%s must be an absolute URL, got %q", ns, fe.Value())
	case "secretref":
		return ns + " must be an AWS Secrets Manager ARN, env:NAME or file:/path"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", ns, fe.Param(), fe.Value())
	case "min", "max":
		return fmt.Sprintf("%s is out of range (%s %s)", ns, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", ns, fe.Tag())
	}
}

// yamlName converts a Go field name used in a validation parameter to its
// snake_case YAML key.
func yamlName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
