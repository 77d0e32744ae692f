package rules

import (
	"fmt"
	"math"

	awstype "github.com/ppiankov/bucketspectre/internal/aws"
	"github.com/ppiankov/bucketspectre/internal/config"
)

// definition is a catalog entry before a weight is bound to it.
type definition struct {
	key           string
	description   string
	defaultWeight int
	check         Check
}

// catalog lists the built-in checks in evaluation order.
var catalog = []definition{
	{KeyPublicAccessEnabled, "Block Public Access is not fully enabled", 100, checkPublicAccessBlock},
	{KeyACLPublicRead, "Bucket ACL allows public access", 80, checkACLPublic},
	{KeyPolicyPublicRead, "Bucket policy may allow public access", 90, checkPolicyPublic},
	{KeyEncryptionDisabled, "Default encryption is not enabled", 40, checkEncryption},
	{KeyVersioningDisabled, "Bucket versioning is not enabled", 20, checkVersioning},
	{KeyLoggingDisabled, "Bucket logging is not enabled", 15, checkLogging},
}

// DefaultWeights returns the weight applied when a key is absent from configuration.
func DefaultWeights() map[string]int {
	m := make(map[string]int, len(catalog))
	for _, d := range catalog {
		m[d.key] = d.defaultWeight
	}
	return m
}

// RuleSet is an immutable, ordered set of rules with weights bound.
type RuleSet struct {
	rules []Rule
}

// Load binds configured weights to the built-in checks. Keys not in the
// catalog are ignored; absent keys take their default weight. A weight that
// is empty, non-numeric, fractional or negative yields a *config.ConfigError.
func Load(weights map[string]any) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]Rule, 0, len(catalog))}
	for _, d := range catalog {
		weight := d.defaultWeight
		if raw, ok := weights[d.key]; ok {
			w, err := parseWeight(raw)
			if err != nil {
				return nil, &config.ConfigError{Key: "risk_weights." + d.key, Reason: err.Error()}
			}
			weight = w
		}
		rs.rules = append(rs.rules, Rule{
			Key:         d.key,
			Description: d.description,
			Severity:    weight,
			Check:       d.check,
		})
	}
	return rs, nil
}

// MustDefault returns the rule set with default weights.
func MustDefault() *RuleSet {
	rs, err := Load(nil)
	if err != nil {
		panic(err)
	}
	return rs
}

// Rules returns a copy of the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Rule looks up a rule by key.
func (rs *RuleSet) Rule(key string) (Rule, bool) {
	for _, r := range rs.rules {
		if r.Key == key {
			return r, true
		}
	}
	return Rule{}, false
}

// Evaluate runs every rule against the snapshot in declaration order.
func (rs *RuleSet) Evaluate(snap awstype.BucketSnapshot) []Outcome {
	out := make([]Outcome, 0, len(rs.rules))
	for _, r := range rs.rules {
		out = append(out, Outcome{Rule: r, Verdict: r.Check(snap)})
	}
	return out
}

func parseWeight(raw any) (int, error) {
	switch v := raw.(type) {
	case nil:
		return 0, fmt.Errorf("missing value")
	case int:
		return checkNonNegative(int64(v))
	case int64:
		return checkNonNegative(v)
	case uint64:
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("weight %d out of range", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("weight %v is not an integer", v)
		}
		return checkNonNegative(int64(v))
	default:
		return 0, fmt.Errorf("weight %v is not numeric", v)
	}
}

func checkNonNegative(v int64) (int, error) {
	if v < 0 {
		return 0, fmt.Errorf("weight %d must not be negative", v)
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("weight %d out of range", v)
	}
	return int(v), nil
}
