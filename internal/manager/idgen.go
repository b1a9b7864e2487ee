package manager

import (
	"fmt"
	"math/rand"
	"regexp"
)

var projectNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,38}$`)
var agentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,40}$`)

// ValidProjectName reports whether name satisfies the allowed naming pattern.
func ValidProjectName(name string) bool {
	return projectNamePattern.MatchString(name)
}

// ValidAgentID reports whether id satisfies the allowed naming pattern.
func ValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}

var adjectives = []string{
	"swift", "calm", "bright", "quiet", "bold", "amber", "crimson", "gentle",
	"eager", "fuzzy", "lucid", "nimble", "solar", "vivid", "wry", "zesty",
}

var nouns = []string{
	"otter", "falcon", "cedar", "comet", "ember", "harbor", "lantern", "meadow",
	"orbit", "pebble", "quartz", "ridge", "summit", "thistle", "willow", "zephyr",
}

// generateID produces a fresh provider-<adjective>-<noun> id, appending
// -<k> (k starting at 2) as long as exists reports a collision within
// the project. Caller-supplied ids bypass this entirely — their
// collisions are a 409, not a disambiguation target.
func generateID(provider string, exists func(candidate string) bool) string {
	base := fmt.Sprintf("%s-%s-%s", provider, adjectives[rand.Intn(len(adjectives))], nouns[rand.Intn(len(nouns))])
	if !exists(base) {
		return base
	}
	for k := 2; ; k++ {
		candidate := fmt.Sprintf("%s-%d", base, k)
		if !exists(candidate) {
			return candidate
		}
	}
}
