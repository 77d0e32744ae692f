package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	awstype "github.com/ppiankov/bucketspectre/internal/aws"
)

func unreadable(snap awstype.BucketSnapshot, sec awstype.Section) (Verdict, bool) {
	if f, ok := snap.Failure(sec); ok {
		return Inconclusive(fmt.Sprintf("%s could not be read: %s", sec, f.Message)), true
	}
	return Verdict{}, false
}

func checkPublicAccessBlock(snap awstype.BucketSnapshot) Verdict {
	if v, ok := unreadable(snap, awstype.SectionPublicAccessBlock); ok {
		return v
	}
	if snap.PublicAccessBlock == nil {
		return Fail(map[string]any{"configured": false})
	}
	p := *snap.PublicAccessBlock
	if p.FullyEnabled() {
		return Pass()
	}
	return Fail(map[string]any{
		"BlockPublicAcls":       p.BlockPublicACLs,
		"IgnorePublicAcls":      p.IgnorePublicACLs,
		"BlockPublicPolicy":     p.BlockPublicPolicy,
		"RestrictPublicBuckets": p.RestrictPublicBuckets,
	})
}

// publicPermissions are the grant permissions that read or write a bucket or its ACL.
var publicPermissions = map[string]bool{
	"READ":         true,
	"WRITE":        true,
	"READ_ACP":     true,
	"WRITE_ACP":    true,
	"FULL_CONTROL": true,
}

func checkACLPublic(snap awstype.BucketSnapshot) Verdict {
	if v, ok := unreadable(snap, awstype.SectionACL); ok {
		return v
	}
	for _, g := range snap.Grants {
		if g.GranteeURI != awstype.GroupAllUsers && g.GranteeURI != awstype.GroupAuthenticatedUsers {
			continue
		}
		if publicPermissions[g.Permission] {
			return Fail(map[string]any{"grantee": g.GranteeURI, "permission": g.Permission})
		}
	}
	return Pass()
}

type policyDocument struct {
	Statement json.RawMessage `json:"Statement"`
}

type policyStatement struct {
	Sid       string          `json:"Sid"`
	Effect    string          `json:"Effect"`
	Principal json.RawMessage `json:"Principal"`
	Condition json.RawMessage `json:"Condition"`
}

func checkPolicyPublic(snap awstype.BucketSnapshot) Verdict {
	if v, ok := unreadable(snap, awstype.SectionPolicy); ok {
		return v
	}
	if strings.TrimSpace(snap.Policy) == "" {
		return Pass()
	}

	statements, err := parseStatements(snap.Policy)
	if err != nil {
		return Inconclusive(fmt.Sprintf("malformed bucket policy: %v", err))
	}
	for i, st := range statements {
		if st.Effect != "Allow" || hasCondition(st.Condition) {
			continue
		}
		wild, err := wildcardPrincipal(st.Principal)
		if err != nil {
			return Inconclusive(fmt.Sprintf("malformed principal in statement %d: %v", i, err))
		}
		if wild {
			return Fail(map[string]any{"statement": i, "sid": st.Sid})
		}
	}
	return Pass()
}

func parseStatements(policy string) ([]policyStatement, error) {
	var doc policyDocument
	if err := json.Unmarshal([]byte(policy), &doc); err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(string(doc.Statement))
	switch {
	case raw == "" || raw == "null":
		return nil, nil
	case strings.HasPrefix(raw, "{"):
		var st policyStatement
		if err := json.Unmarshal(doc.Statement, &st); err != nil {
			return nil, err
		}
		return []policyStatement{st}, nil
	default:
		var sts []policyStatement
		if err := json.Unmarshal(doc.Statement, &sts); err != nil {
			return nil, err
		}
		return sts, nil
	}
}

func hasCondition(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "{}"
}

// wildcardPrincipal reports whether a principal is "*" or maps any principal
// type to "*" (e.g. {"AWS": "*"} or {"AWS": ["*"]}).
func wildcardPrincipal(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "*", nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false, err
	}
	for _, v := range m {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			if one == "*" {
				return true, nil
			}
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err != nil {
			return false, err
		}
		for _, p := range many {
			if p == "*" {
				return true, nil
			}
		}
	}
	return false, nil
}

func checkEncryption(snap awstype.BucketSnapshot) Verdict {
	if v, ok := unreadable(snap, awstype.SectionEncryption); ok {
		return v
	}
	if snap.EncryptionEnabled {
		return Pass()
	}
	return Fail(nil)
}

func checkVersioning(snap awstype.BucketSnapshot) Verdict {
	if v, ok := unreadable(snap, awstype.SectionVersioning); ok {
		return v
	}
	if snap.VersioningStatus == "Enabled" {
		return Pass()
	}
	status := snap.VersioningStatus
	if status == "" {
		status = "NeverEnabled"
	}
	return Fail(map[string]any{"status": status})
}

func checkLogging(snap awstype.BucketSnapshot) Verdict {
	if v, ok := unreadable(snap, awstype.SectionLogging); ok {
		return v
	}
	if snap.LoggingEnabled {
		return Pass()
	}
	return Fail(nil)
}
