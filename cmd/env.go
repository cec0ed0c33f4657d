package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/joho/godotenv"

	"github.com/casebook/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required variables that are missing
	Present  map[string]string // Variables that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// LoadEnvFiles loads .env style files without overriding variables that
// are already set. Missing files are skipped.
func LoadEnvFiles(filenames ...string) error {
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", name, err)
		}
	}
	return nil
}

// CheckRequiredConfig reports which secrets the configured executor and
// models need and whether they are present.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Present: make(map[string]string),
	}

	required := map[string]string{
		"server.jwt_secret": cfg.Server.JWTSecret,
	}
	if cfg.Database.Driver == "postgres" {
		required["database.url"] = cfg.Database.URL
	} else {
		result.Warnings = append(result.Warnings, "in-memory store selected, data is lost on restart")
	}
	if cfg.Executor.Kind == "redis" {
		required["redis.url"] = cfg.Redis.URL
	}
	for _, m := range cfg.AI.Models {
		if m.Provider == "openai" {
			required["ai.api_key"] = cfg.AI.APIKey
			break
		}
	}
	if cfg.Executor.StaleAfter == 0 {
		result.Warnings = append(result.Warnings, "executor.stale_after is 0, stuck exchanges stay in progress until cancelled")
	}

	for key, val := range required {
		if val == "" {
			result.Missing = append(result.Missing, key)
		} else {
			result.Present[key] = maskSecret(val)
		}
	}
	sort.Strings(result.Missing)
	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")

	if len(result.Missing) > 0 {
		fmt.Println("Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

func exitIfMissing(result *ConfigCheckResult) error {
	if len(result.Missing) > 0 {
		return fmt.Errorf("missing required settings: %v", result.Missing)
	}
	return nil
}
