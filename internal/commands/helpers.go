package commands

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"

	"github.com/ppiankov/bucketspectre/internal/config"
)

// enhanceError wraps an error with context and suggestions for common AWS issues.
func enhanceError(action string, err error) error {
	msg := err.Error()

	var hint string
	switch {
	case strings.Contains(msg, "NoCredentialProviders") || strings.Contains(msg, "failed to retrieve credentials"):
		hint = "Configure AWS credentials: set AWS_PROFILE, AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY, or run 'aws configure'"
	case strings.Contains(msg, "ExpiredToken"):
		hint = "AWS session token expired. Refresh credentials or run 'aws sso login'"
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "UnauthorizedAccess"):
		hint = "Insufficient permissions. Apply the IAM policy from 'bucketspectre init' to your role/user"
	case strings.Contains(msg, "RequestExpired"):
		hint = "Request expired. Check system clock synchronization"
	case strings.Contains(msg, "Throttling") || strings.Contains(msg, "SlowDown"):
		hint = "AWS API rate limit hit. Retry with a lower --concurrency"
	case strings.Contains(msg, "database is locked"):
		hint = "Another bucketspectre process is writing the history database. Wait for it or use a different sqlite.db_file"
	}

	if hint != "" {
		return fmt.Errorf("%s: %w\n  hint: %s", action, err, hint)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// computeTargetHash generates a SHA256 hash for the target URI.
func computeTargetHash(account string, regions []string) string {
	input := fmt.Sprintf("account:%s,regions:%s", account, strings.Join(regions, ","))
	h := sha256.Sum256([]byte(input))
	return fmt.Sprintf("sha256:%x", h)
}

// validateRegions checks a region filter against the account's enabled regions.
func validateRegions(requested, enabled []string) error {
	var unknown []string
	for _, r := range requested {
		if !slices.Contains(enabled, r) {
			unknown = append(unknown, r)
		}
	}
	if len(unknown) > 0 {
		return &config.ConfigError{
			Key:    "regions",
			Reason: fmt.Sprintf("not enabled for this account: %s", strings.Join(unknown, ", ")),
		}
	}
	return nil
}
