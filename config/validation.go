package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/stardustapp/skychat-sub000/data"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags first, then the rules spanning sections.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	stores := make(map[string]bool)
	for i, store := range cfg.Stores {
		if stores[store.Name] {
			return fmt.Errorf("stores[%d]: duplicate store name %q", i, store.Name)
		}
		stores[store.Name] = true
	}

	paths := make(map[string]bool)
	for i, m := range cfg.Mounts {
		path := data.Clean(m.Path)
		if err := data.ValidatePath(path); err != nil {
			return fmt.Errorf("mounts[%d]: %w", i, err)
		}
		if paths[path] {
			return fmt.Errorf("mounts[%d]: duplicate mount path %q", i, m.Path)
		}
		paths[path] = true

		switch {
		case m.Structured() && m.Store == "":
			return fmt.Errorf("mounts[%d]: %s mount requires a store", i, m.Type)
		case m.Structured() && !stores[m.Store]:
			return fmt.Errorf("mounts[%d]: unknown store %q", i, m.Store)
		case !m.Structured() && m.Store != "":
			return fmt.Errorf("mounts[%d]: %s mount does not use a store", i, m.Type)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
