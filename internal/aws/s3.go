package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the minimal interface for bucket configuration reads.
type S3API interface {
	ListBuckets(ctx context.Context, input *s3.ListBucketsInput, opts ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketLocation(ctx context.Context, input *s3.GetBucketLocationInput, opts ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	GetPublicAccessBlock(ctx context.Context, input *s3.GetPublicAccessBlockInput, opts ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error)
	GetBucketAcl(ctx context.Context, input *s3.GetBucketAclInput, opts ...func(*s3.Options)) (*s3.GetBucketAclOutput, error)
	GetBucketPolicy(ctx context.Context, input *s3.GetBucketPolicyInput, opts ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error)
	GetBucketEncryption(ctx context.Context, input *s3.GetBucketEncryptionInput, opts ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error)
	GetBucketVersioning(ctx context.Context, input *s3.GetBucketVersioningInput, opts ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error)
	GetBucketLogging(ctx context.Context, input *s3.GetBucketLoggingInput, opts ...func(*s3.Options)) (*s3.GetBucketLoggingOutput, error)
}

// S3 error codes that mean "not configured" rather than "could not read".
const (
	codeNoSuchPublicAccessBlock = "NoSuchPublicAccessBlockConfiguration"
	codeNoSuchBucketPolicy      = "NoSuchBucketPolicy"
	codeNoEncryptionConfig      = "ServerSideEncryptionConfigurationNotFoundError"
	codeNoSuchBucket            = "NoSuchBucket"
)

// SnapshotProvider supplies bucket listings and per-bucket configuration snapshots.
type SnapshotProvider interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	Snapshot(ctx context.Context, bucket Bucket) (BucketSnapshot, error)
}

// S3SnapshotProvider reads bucket configuration through the S3 API.
type S3SnapshotProvider struct {
	client S3API
}

// NewS3SnapshotProvider creates a provider backed by the given S3 client.
func NewS3SnapshotProvider(client S3API) *S3SnapshotProvider {
	return &S3SnapshotProvider{client: client}
}

// ListBuckets returns every bucket visible to the credentials.
func (p *S3SnapshotProvider) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var (
		buckets []Bucket
		token   *string
	)
	for {
		out, err := p.client.ListBuckets(ctx, &s3.ListBucketsInput{ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		for _, b := range out.Buckets {
			buckets = append(buckets, Bucket{
				Name:      deref(b.Name),
				CreatedAt: awssdk.ToTime(b.CreationDate),
			})
		}
		if out.ContinuationToken == nil || *out.ContinuationToken == "" {
			break
		}
		token = out.ContinuationToken
	}

	slog.Debug("Listed buckets", "count", len(buckets))
	return buckets, nil
}

// Snapshot reads every configuration section of one bucket. A section whose
// call fails is recorded in Failures; the snapshot as a whole fails only when
// the bucket no longer exists, the context ends, or nothing could be read.
func (p *S3SnapshotProvider) Snapshot(ctx context.Context, bucket Bucket) (BucketSnapshot, error) {
	snap := BucketSnapshot{Name: bucket.Name, CreatedAt: bucket.CreatedAt}
	name := awssdk.String(bucket.Name)

	loc, err := p.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: name})
	if err != nil {
		if isCode(err, codeNoSuchBucket) || ctx.Err() != nil {
			return BucketSnapshot{}, &ProviderError{Bucket: bucket.Name, Op: "get bucket location", Err: err}
		}
		snap.fail(SectionLocation, err)
	} else {
		region := normalizeRegion(loc.LocationConstraint)
		snap.Region = &region
	}

	var opts []func(*s3.Options)
	if snap.Region != nil {
		region := *snap.Region
		opts = append(opts, func(o *s3.Options) { o.Region = region })
	}

	pab, err := p.client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: name}, opts...)
	switch {
	case err == nil && pab.PublicAccessBlockConfiguration != nil:
		c := pab.PublicAccessBlockConfiguration
		snap.PublicAccessBlock = &PublicAccessBlock{
			BlockPublicACLs:       awssdk.ToBool(c.BlockPublicAcls),
			IgnorePublicACLs:      awssdk.ToBool(c.IgnorePublicAcls),
			BlockPublicPolicy:     awssdk.ToBool(c.BlockPublicPolicy),
			RestrictPublicBuckets: awssdk.ToBool(c.RestrictPublicBuckets),
		}
	case err == nil, isCode(err, codeNoSuchPublicAccessBlock):
		// no block configured
	default:
		snap.fail(SectionPublicAccessBlock, err)
	}

	acl, err := p.client.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: name}, opts...)
	if err != nil {
		snap.fail(SectionACL, err)
	} else {
		snap.Grants = convertGrants(acl.Grants)
	}

	pol, err := p.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: name}, opts...)
	switch {
	case err == nil:
		snap.Policy = deref(pol.Policy)
	case isCode(err, codeNoSuchBucketPolicy):
	default:
		snap.fail(SectionPolicy, err)
	}

	enc, err := p.client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: name}, opts...)
	switch {
	case err == nil:
		snap.EncryptionEnabled = enc.ServerSideEncryptionConfiguration != nil &&
			len(enc.ServerSideEncryptionConfiguration.Rules) > 0
	case isCode(err, codeNoEncryptionConfig):
	default:
		snap.fail(SectionEncryption, err)
	}

	ver, err := p.client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: name}, opts...)
	if err != nil {
		snap.fail(SectionVersioning, err)
	} else {
		snap.VersioningStatus = string(ver.Status)
	}

	logging, err := p.client.GetBucketLogging(ctx, &s3.GetBucketLoggingInput{Bucket: name}, opts...)
	if err != nil {
		snap.fail(SectionLogging, err)
	} else {
		snap.LoggingEnabled = logging.LoggingEnabled != nil
	}

	if ctx.Err() != nil {
		return BucketSnapshot{}, &ProviderError{Bucket: bucket.Name, Op: "read configuration", Err: ctx.Err()}
	}
	// location plus six configuration sections
	if len(snap.Failures) == 7 {
		return BucketSnapshot{}, &ProviderError{
			Bucket: bucket.Name,
			Op:     "read configuration",
			Err:    errors.New(snap.Failures[0].Message),
		}
	}
	for _, f := range snap.Failures {
		slog.Warn("Could not read bucket configuration", "bucket", bucket.Name, "section", f.Section, "error", f.Message)
	}
	return snap, nil
}

func (s *BucketSnapshot) fail(sec Section, err error) {
	s.Failures = append(s.Failures, SectionFailure{Section: sec, Message: err.Error()})
}

func convertGrants(grants []s3types.Grant) []Grant {
	if len(grants) == 0 {
		return nil
	}
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		grant := Grant{Permission: string(g.Permission)}
		if g.Grantee != nil {
			grant.GranteeType = string(g.Grantee.Type)
			grant.GranteeURI = deref(g.Grantee.URI)
			grant.GranteeID = deref(g.Grantee.ID)
		}
		out = append(out, grant)
	}
	return out
}

// normalizeRegion maps GetBucketLocation's legacy constraints to region names.
func normalizeRegion(c s3types.BucketLocationConstraint) string {
	switch c {
	case "":
		return "us-east-1"
	case "EU":
		return "eu-west-1"
	default:
		return string(c)
	}
}

func isCode(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
