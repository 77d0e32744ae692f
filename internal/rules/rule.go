package rules

import (
	awstype "github.com/ppiankov/bucketspectre/internal/aws"
)

// Built-in rule keys, in declaration order.
const (
	KeyPublicAccessEnabled = "public_access_enabled"
	KeyACLPublicRead       = "acl_public_read"
	KeyPolicyPublicRead    = "policy_public_read"
	KeyEncryptionDisabled  = "encryption_disabled"
	KeyVersioningDisabled  = "versioning_disabled"
	KeyLoggingDisabled     = "logging_disabled"
)

// Status is the tagged outcome of one check.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusInconclusive
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	default:
		return "inconclusive"
	}
}

// Verdict is what a check returns. Details carries evidence for failures
// and Reason explains an inconclusive result.
type Verdict struct {
	Status  Status
	Reason  string
	Details map[string]any
}

// Pass is the verdict for a satisfied check.
func Pass() Verdict { return Verdict{Status: StatusPass} }

// Fail is the verdict for a violated check.
func Fail(details map[string]any) Verdict { return Verdict{Status: StatusFail, Details: details} }

// Inconclusive is the verdict for a check whose inputs could not be evaluated.
func Inconclusive(reason string) Verdict { return Verdict{Status: StatusInconclusive, Reason: reason} }

// Check is a pure predicate over a snapshot. It must not perform I/O and
// must return a verdict for every snapshot, including ones with absent
// optional fields.
type Check func(snap awstype.BucketSnapshot) Verdict

// Rule binds a check to its severity weight.
type Rule struct {
	Key         string
	Description string
	Severity    int
	Check       Check
}

// Outcome pairs a rule with its verdict for one snapshot.
type Outcome struct {
	Rule    Rule
	Verdict Verdict
}

// Passed reports whether the rule was satisfied.
func (o Outcome) Passed() bool { return o.Verdict.Status == StatusPass }
