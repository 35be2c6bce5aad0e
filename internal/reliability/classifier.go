package reliability

import "strings"

// Classification names the failure family of a provider call.
type Classification string

const (
	ClassRateLimited Classification = "rate_limited"
	ClassNetwork     Classification = "network"
	ClassAuth        Classification = "auth"
	ClassOther       Classification = "other"
)

// classifyRules are checked in order; the first match wins, so a message
// containing both rate-limit and network wording counts as rate limited.
var classifyRules = []struct {
	class   Classification
	markers []string
}{
	{ClassRateLimited, []string{"429", "rate limit", "request limit exceeded"}},
	{ClassNetwork, []string{"connection", "network", "timeout"}},
	{ClassAuth, []string{"authentication", "unauthorized", "api key"}},
}

// Classify maps a provider error to its failure class by substring match
// on the lowercased error text. A nil error classifies as ClassOther.
func Classify(err error) Classification {
	if err == nil {
		return ClassOther
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, marker := range rule.markers {
			if strings.Contains(msg, marker) {
				return rule.class
			}
		}
	}
	return ClassOther
}

// Retryable reports whether a failure class is worth another attempt.
func (c Classification) Retryable() bool {
	return c == ClassRateLimited || c == ClassNetwork
}
