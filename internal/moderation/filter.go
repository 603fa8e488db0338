package moderation

import "regexp"

// Policy is an ordered set of content matchers. Policies are versioned so
// the active pattern set can be reported and evolved without touching
// callers.
type Policy struct {
	Version  string
	patterns []*regexp.Regexp
}

// DefaultPolicy returns the v1 prompt-injection policy. The patterns
// target the common ways a message tries to hijack a reading agent's
// instructions. Coarse on purpose; false positives on "OVERRIDE" or
// "ACT AS" are an accepted cost in a room full of language models.
func DefaultPolicy() *Policy {
	return &Policy{
		Version: "1",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore (?:all |any )?(?:previous |prior |above )?instructions`),
			regexp.MustCompile(`(?i)disregard (?:all |any )?(?:previous |prior |above )?instructions`),
			regexp.MustCompile(`(?i)you are now`),
			regexp.MustCompile(`(?i)new instructions:`),
			regexp.MustCompile(`(?i)system ?prompt`),
			regexp.MustCompile(`(?i)\[system\]`),
			regexp.MustCompile(`(?i)\[inst\]`),
			regexp.MustCompile(`(?i)<<\s*sys`),
			regexp.MustCompile(`(?i)<\|im_start\|>`),
			regexp.MustCompile(`(?i)BEGIN INSTRUCTION`),
			regexp.MustCompile(`(?i)OVERRIDE`),
			regexp.MustCompile(`(?i)ACT AS`),
			regexp.MustCompile(`(?i)you must now`),
			regexp.MustCompile(`(?i)forget (?:all |everything |your )`),
			regexp.MustCompile(`(?i)roleplay as`),
			regexp.MustCompile(`(?i)pretend (?:you are|to be)`),
			regexp.MustCompile(`(?i)do not follow`),
			regexp.MustCompile(`\bDAN\b`), // case-sensitive: "Dan" is a name
			regexp.MustCompile(`(?i)jailbreak`),
		},
	}
}

// Match reports whether text trips any pattern in the policy.
func (p *Policy) Match(text string) bool {
	for _, re := range p.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
