package aws

import (
	"fmt"
	"time"
)

// Section names a part of a bucket's configuration fetched by its own API call.
type Section string

const (
	SectionLocation          Section = "location"
	SectionPublicAccessBlock Section = "public_access_block"
	SectionACL               Section = "acl"
	SectionPolicy            Section = "policy"
	SectionEncryption        Section = "encryption"
	SectionVersioning        Section = "versioning"
	SectionLogging           Section = "logging"
)

// Grantee group URIs that expose a bucket beyond the owning account.
const (
	GroupAllUsers           = "http://acs.amazonaws.com/groups/global/AllUsers"
	GroupAuthenticatedUsers = "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"
)

// PublicAccessBlock mirrors the four Block Public Access settings.
type PublicAccessBlock struct {
	BlockPublicACLs       bool `json:"block_public_acls"`
	IgnorePublicACLs      bool `json:"ignore_public_acls"`
	BlockPublicPolicy     bool `json:"block_public_policy"`
	RestrictPublicBuckets bool `json:"restrict_public_buckets"`
}

// FullyEnabled reports whether all four settings are on.
func (p PublicAccessBlock) FullyEnabled() bool {
	return p.BlockPublicACLs && p.IgnorePublicACLs && p.BlockPublicPolicy && p.RestrictPublicBuckets
}

// Grant is a single ACL grant.
type Grant struct {
	GranteeType string `json:"grantee_type"`
	GranteeURI  string `json:"grantee_uri,omitempty"`
	GranteeID   string `json:"grantee_id,omitempty"`
	Permission  string `json:"permission"`
}

// SectionFailure records a configuration section that could not be read.
type SectionFailure struct {
	Section Section `json:"section"`
	Message string  `json:"message"`
}

// BucketSnapshot is a point-in-time read of a bucket's security-relevant
// configuration. Optional values are explicit: a nil Region means the region
// is unknown, a nil PublicAccessBlock means no block is configured, and an
// empty Policy means the bucket has no policy. Sections whose API call failed
// are listed in Failures; rules that depend on them report inconclusive.
type BucketSnapshot struct {
	Name              string             `json:"name"`
	Region            *string            `json:"region"`
	CreatedAt         time.Time          `json:"created_at"`
	PublicAccessBlock *PublicAccessBlock `json:"public_access_block"`
	Grants            []Grant            `json:"grants"`
	Policy            string             `json:"policy,omitempty"`
	EncryptionEnabled bool               `json:"encryption_enabled"`
	VersioningStatus  string             `json:"versioning_status"`
	LoggingEnabled    bool               `json:"logging_enabled"`
	Failures          []SectionFailure   `json:"failures,omitempty"`
}

// RegionOrUnknown returns the region, or "unknown" when absent.
func (s BucketSnapshot) RegionOrUnknown() string {
	if s.Region == nil || *s.Region == "" {
		return "unknown"
	}
	return *s.Region
}

// Failure returns the failure recorded for a section, if any.
func (s BucketSnapshot) Failure(sec Section) (SectionFailure, bool) {
	for _, f := range s.Failures {
		if f.Section == sec {
			return f, true
		}
	}
	return SectionFailure{}, false
}

// Bucket is a bucket discovered by listing, before its snapshot is fetched.
type Bucket struct {
	Name      string
	CreatedAt time.Time
}

// ProviderError reports that a bucket's snapshot could not be retrieved.
// It is contained at the bucket boundary and never aborts a run.
type ProviderError struct {
	Bucket string
	Op     string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("bucket %s: %s: %v", e.Bucket, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
