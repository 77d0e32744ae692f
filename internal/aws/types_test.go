package aws

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPublicAccessBlock_FullyEnabled(t *testing.T) {
	all := PublicAccessBlock{BlockPublicACLs: true, IgnorePublicACLs: true, BlockPublicPolicy: true, RestrictPublicBuckets: true}
	if !all.FullyEnabled() {
		t.Fatal("expected fully enabled")
	}
	partial := all
	partial.RestrictPublicBuckets = false
	if partial.FullyEnabled() {
		t.Fatal("expected one disabled setting to fail")
	}
}

func TestBucketSnapshot_RegionOrUnknown(t *testing.T) {
	if got := (BucketSnapshot{}).RegionOrUnknown(); got != "unknown" {
		t.Fatalf("expected unknown, got %s", got)
	}
	empty := ""
	if got := (BucketSnapshot{Region: &empty}).RegionOrUnknown(); got != "unknown" {
		t.Fatalf("expected unknown for empty region, got %s", got)
	}
	region := "ap-southeast-2"
	if got := (BucketSnapshot{Region: &region}).RegionOrUnknown(); got != region {
		t.Fatalf("expected %s, got %s", region, got)
	}
}

func TestBucketSnapshot_Failure(t *testing.T) {
	snap := BucketSnapshot{Failures: []SectionFailure{{Section: SectionACL, Message: "AccessDenied"}}}

	f, ok := snap.Failure(SectionACL)
	if !ok || f.Message != "AccessDenied" {
		t.Fatalf("expected acl failure, got %+v %v", f, ok)
	}
	if _, ok := snap.Failure(SectionPolicy); ok {
		t.Fatal("expected no policy failure")
	}
}

func TestBucketSnapshot_JSONNullRegion(t *testing.T) {
	data, err := json.Marshal(BucketSnapshot{Name: "b"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := decoded["region"]; !ok || v != nil {
		t.Fatalf("expected explicit null region, got %v", v)
	}
	if _, ok := decoded["failures"]; ok {
		t.Fatal("failures should be omitted when empty")
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	base := errors.New("connection reset")
	err := error(&ProviderError{Bucket: "b", Op: "GetBucketAcl", Err: base})

	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error")
	}
	if err.Error() != "bucket b: GetBucketAcl: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
