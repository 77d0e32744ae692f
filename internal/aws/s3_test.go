package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type mockS3Client struct {
	buckets    []s3types.Bucket
	pages      map[string]*s3.ListBucketsOutput
	location   string
	locErr     error
	pab        *s3types.PublicAccessBlockConfiguration
	pabErr     error
	grants     []s3types.Grant
	aclErr     error
	policy     string
	policyErr  error
	encRules   int
	encErr     error
	versioning s3types.BucketVersioningStatus
	verErr     error
	logging    bool
	logErr     error

	regions []string
}

func (m *mockS3Client) ListBuckets(_ context.Context, in *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if m.pages != nil {
		return m.pages[awssdk.ToString(in.ContinuationToken)], nil
	}
	return &s3.ListBucketsOutput{Buckets: m.buckets}, nil
}

func (m *mockS3Client) GetBucketLocation(_ context.Context, _ *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	if m.locErr != nil {
		return nil, m.locErr
	}
	return &s3.GetBucketLocationOutput{LocationConstraint: s3types.BucketLocationConstraint(m.location)}, nil
}

func (m *mockS3Client) GetPublicAccessBlock(_ context.Context, _ *s3.GetPublicAccessBlockInput, opts ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
	var o s3.Options
	for _, fn := range opts {
		fn(&o)
	}
	m.regions = append(m.regions, o.Region)
	if m.pabErr != nil {
		return nil, m.pabErr
	}
	return &s3.GetPublicAccessBlockOutput{PublicAccessBlockConfiguration: m.pab}, nil
}

func (m *mockS3Client) GetBucketAcl(_ context.Context, _ *s3.GetBucketAclInput, _ ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	if m.aclErr != nil {
		return nil, m.aclErr
	}
	return &s3.GetBucketAclOutput{Grants: m.grants}, nil
}

func (m *mockS3Client) GetBucketPolicy(_ context.Context, _ *s3.GetBucketPolicyInput, _ ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error) {
	if m.policyErr != nil {
		return nil, m.policyErr
	}
	return &s3.GetBucketPolicyOutput{Policy: awssdk.String(m.policy)}, nil
}

func (m *mockS3Client) GetBucketEncryption(_ context.Context, _ *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
	if m.encErr != nil {
		return nil, m.encErr
	}
	rules := make([]s3types.ServerSideEncryptionRule, m.encRules)
	return &s3.GetBucketEncryptionOutput{
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{Rules: rules},
	}, nil
}

func (m *mockS3Client) GetBucketVersioning(_ context.Context, _ *s3.GetBucketVersioningInput, _ ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
	if m.verErr != nil {
		return nil, m.verErr
	}
	return &s3.GetBucketVersioningOutput{Status: m.versioning}, nil
}

func (m *mockS3Client) GetBucketLogging(_ context.Context, _ *s3.GetBucketLoggingInput, _ ...func(*s3.Options)) (*s3.GetBucketLoggingOutput, error) {
	if m.logErr != nil {
		return nil, m.logErr
	}
	out := &s3.GetBucketLoggingOutput{}
	if m.logging {
		out.LoggingEnabled = &s3types.LoggingEnabled{TargetBucket: awssdk.String("access-logs")}
	}
	return out, nil
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func hardenedMock() *mockS3Client {
	return &mockS3Client{
		location: "eu-central-1",
		pab: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       awssdk.Bool(true),
			IgnorePublicAcls:      awssdk.Bool(true),
			BlockPublicPolicy:     awssdk.Bool(true),
			RestrictPublicBuckets: awssdk.Bool(true),
		},
		policyErr:  apiError(codeNoSuchBucketPolicy),
		encRules:   1,
		versioning: s3types.BucketVersioningStatusEnabled,
		logging:    true,
	}
}

func TestS3SnapshotProvider_ListBuckets(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock := &mockS3Client{
		buckets: []s3types.Bucket{
			{Name: awssdk.String("alpha"), CreationDate: &created},
			{Name: awssdk.String("beta")},
		},
	}

	buckets, err := NewS3SnapshotProvider(mock).ListBuckets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if !buckets[0].CreatedAt.Equal(created) {
		t.Fatalf("expected creation date %v, got %v", created, buckets[0].CreatedAt)
	}
}

func TestS3SnapshotProvider_ListBucketsPaginates(t *testing.T) {
	mock := &mockS3Client{
		pages: map[string]*s3.ListBucketsOutput{
			"":   {Buckets: []s3types.Bucket{{Name: awssdk.String("a")}}, ContinuationToken: awssdk.String("p2")},
			"p2": {Buckets: []s3types.Bucket{{Name: awssdk.String("b")}}},
		},
	}

	buckets, err := NewS3SnapshotProvider(mock).ListBuckets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buckets) != 2 || buckets[1].Name != "b" {
		t.Fatalf("expected buckets a,b across pages, got %+v", buckets)
	}
}

func TestS3SnapshotProvider_HardenedBucket(t *testing.T) {
	mock := hardenedMock()
	snap, err := NewS3SnapshotProvider(mock).Snapshot(context.Background(), Bucket{Name: "secure"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.RegionOrUnknown() != "eu-central-1" {
		t.Fatalf("expected eu-central-1, got %s", snap.RegionOrUnknown())
	}
	if snap.PublicAccessBlock == nil || !snap.PublicAccessBlock.FullyEnabled() {
		t.Fatal("expected fully enabled public access block")
	}
	if snap.Policy != "" {
		t.Fatalf("expected no policy, got %q", snap.Policy)
	}
	if !snap.EncryptionEnabled || !snap.LoggingEnabled || snap.VersioningStatus != "Enabled" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Failures) != 0 {
		t.Fatalf("expected no failures, got %+v", snap.Failures)
	}
	if len(mock.regions) != 1 || mock.regions[0] != "eu-central-1" {
		t.Fatalf("expected calls routed to bucket region, got %v", mock.regions)
	}
}

func TestS3SnapshotProvider_NotConfiguredSections(t *testing.T) {
	mock := hardenedMock()
	mock.location = ""
	mock.pab = nil
	mock.pabErr = apiError(codeNoSuchPublicAccessBlock)
	mock.encErr = apiError(codeNoEncryptionConfig)
	mock.versioning = ""
	mock.logging = false

	snap, err := NewS3SnapshotProvider(mock).Snapshot(context.Background(), Bucket{Name: "legacy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.RegionOrUnknown() != "us-east-1" {
		t.Fatalf("expected empty constraint to map to us-east-1, got %s", snap.RegionOrUnknown())
	}
	if snap.PublicAccessBlock != nil {
		t.Fatal("expected nil public access block when not configured")
	}
	if snap.EncryptionEnabled || snap.LoggingEnabled {
		t.Fatal("expected encryption and logging disabled")
	}
	if len(snap.Failures) != 0 {
		t.Fatalf("not-configured responses must not be failures, got %+v", snap.Failures)
	}
}

func TestS3SnapshotProvider_SectionFailuresRecorded(t *testing.T) {
	mock := hardenedMock()
	mock.locErr = apiError("AccessDenied")
	mock.aclErr = apiError("AccessDenied")

	snap, err := NewS3SnapshotProvider(mock).Snapshot(context.Background(), Bucket{Name: "restricted"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Region != nil {
		t.Fatal("expected unknown region after location failure")
	}
	if _, ok := snap.Failure(SectionACL); !ok {
		t.Fatal("expected ACL failure recorded")
	}
	if _, ok := snap.Failure(SectionLocation); !ok {
		t.Fatal("expected location failure recorded")
	}
}

func TestS3SnapshotProvider_MissingBucketIsProviderError(t *testing.T) {
	mock := hardenedMock()
	mock.locErr = apiError(codeNoSuchBucket)

	_, err := NewS3SnapshotProvider(mock).Snapshot(context.Background(), Bucket{Name: "gone"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Bucket != "gone" {
		t.Fatalf("expected bucket gone, got %s", perr.Bucket)
	}
}

func TestS3SnapshotProvider_AllSectionsFail(t *testing.T) {
	denied := apiError("AccessDenied")
	mock := &mockS3Client{
		locErr: denied, pabErr: denied, aclErr: denied, policyErr: denied,
		encErr: denied, verErr: denied, logErr: denied,
	}

	_, err := NewS3SnapshotProvider(mock).Snapshot(context.Background(), Bucket{Name: "locked"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestConvertGrants(t *testing.T) {
	grants := convertGrants([]s3types.Grant{
		{
			Grantee:    &s3types.Grantee{Type: s3types.TypeGroup, URI: awssdk.String(GroupAllUsers)},
			Permission: s3types.PermissionRead,
		},
		{Permission: s3types.PermissionFullControl},
	})
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}
	if grants[0].GranteeURI != GroupAllUsers || grants[0].Permission != "READ" {
		t.Fatalf("unexpected grant: %+v", grants[0])
	}
	if grants[1].GranteeType != "" {
		t.Fatalf("expected empty grantee type for nil grantee, got %q", grants[1].GranteeType)
	}
}

func TestNormalizeRegion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "us-east-1"},
		{"EU", "eu-west-1"},
		{"ap-south-1", "ap-south-1"},
	}
	for _, tt := range tests {
		if got := normalizeRegion(s3types.BucketLocationConstraint(tt.in)); got != tt.want {
			t.Fatalf("normalizeRegion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
