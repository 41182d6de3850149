package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate validates the configuration using struct tags and the rules that
// depend on a section's type.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir == "" {
		return fmt.Errorf("database: data_dir is required for type sqlite")
	}
	if cfg.Cache.Type == "redis" && cfg.Cache.RedisAddr == "" {
		return fmt.Errorf("cache: redis_addr is required for type redis")
	}
	if cfg.Staging.Type == "filesystem" && cfg.Staging.StagingDir == "" {
		return fmt.Errorf("staging: staging_dir is required for type filesystem")
	}

	names := make(map[string]bool)
	for i, v := range cfg.Vaults {
		if names[v.Name] {
			return fmt.Errorf("vaults[%d]: duplicate vault name %q", i, v.Name)
		}
		names[v.Name] = true

		switch v.Type {
		case "s3":
			if v.S3Bucket == "" {
				return fmt.Errorf("vaults[%d]: s3_bucket is required for type s3", i)
			}
		case "filesystem":
			if v.FSVaultRoot == "" {
				return fmt.Errorf("vaults[%d]: fs_vault_root is required for type filesystem", i)
			}
		}
	}

	for field, spec := range map[string]string{
		"storage.sweep_schedule": cfg.Storage.SweepSchedule,
		"snapshot.schedule":      cfg.Snapshot.Schedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.Parse(spec); err != nil {
			return fmt.Errorf("%s: invalid schedule %q: %w", field, spec, err)
		}
	}
	if cfg.Snapshot.Schedule != "" && len(cfg.Vaults) == 0 {
		return fmt.Errorf("snapshot: schedule is set but no vaults are configured")
	}

	if cfg.Encryption.Type == "age" || cfg.Encryption.Type == "" {
		if cfg.Encryption.PublicKeyPath == "" || cfg.Encryption.PrivateKeyPath == "" {
			return fmt.Errorf("encryption: public_key_path and private_key_path are required for type age")
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
