package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate sample config and IAM policy",
	Long: `Writes a sample .bucketspectre.yaml with the default risk weights and a
read-only IAM policy covering every API call a scan makes.`,
	Args: cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "Overwrite existing files")
}

const (
	initConfigPath = ".bucketspectre.yaml"
	initPolicyPath = "bucketspectre-policy.json"
)

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	files := []struct {
		path    string
		content string
	}{
		{initConfigPath, sampleConfig},
		{initPolicyPath, sampleIAMPolicy},
	}

	created := 0
	for _, f := range files {
		wrote, err := writeIfNotExists(f.path, f.content, initFlags.force)
		if err != nil {
			return err
		}
		if !wrote {
			fmt.Fprintf(out, "Skipping %s (already exists, use --force to overwrite)\n", f.path)
			continue
		}
		fmt.Fprintf(out, "Created %s\n", f.path)
		created++
	}

	if created > 0 {
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintf(out, "  1. Edit %s to tune risk weights and exclusions\n", initConfigPath)
		fmt.Fprintf(out, "  2. Attach %s to the IAM role or user that runs the scan\n", initPolicyPath)
		fmt.Fprintln(out, "  3. Run: bucketspectre scan")
	}
	return nil
}

// writeIfNotExists writes content to path unless the file exists and force is
// off. It reports whether the file was written.
func writeIfNotExists(path, content string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const sampleConfig = `# bucketspectre configuration
# See: https://github.com/ppiankov/bucketspectre

# AWS profile (or set AWS_PROFILE env var)
# profile: default

# Only report buckets in these regions (default: all)
# regions:
#   - us-east-1
#   - eu-west-1

# Output format: text, json, sarif, spectrehub
format: text

# Scan timeout
timeout: 10m

# Buckets fetched in parallel
concurrency: 8

# Score at which a bucket is reported as high risk
high_risk_threshold: 50

# Points each failed rule adds to a bucket's risk score.
# Missing keys use these defaults; 0 keeps the finding but scores nothing.
risk_weights:
  public_access_enabled: 100
  acl_public_read: 80
  policy_public_read: 90
  encryption_disabled: 40
  versioning_disabled: 20
  logging_disabled: 15

# Scan history
sqlite:
  db_file: bucketspectre.db

# Buckets to skip
# exclude:
#   buckets:
#     - my-terraform-state
#   prefixes:
#     - cdk-
`

const sampleIAMPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "BucketSpectreReadOnly",
      "Effect": "Allow",
      "Action": [
        "s3:ListAllMyBuckets",
        "s3:GetBucketLocation",
        "s3:GetBucketPublicAccessBlock",
        "s3:GetBucketAcl",
        "s3:GetBucketPolicy",
        "s3:GetEncryptionConfiguration",
        "s3:GetBucketVersioning",
        "s3:GetBucketLogging",
        "sts:GetCallerIdentity",
        "cloudwatch:GetMetricData",
        "ec2:DescribeRegions"
      ],
      "Resource": "*"
    }
  ]
}
`
