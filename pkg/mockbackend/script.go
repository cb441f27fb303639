package mockbackend

import (
	"regexp"

	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Line is one scripted utterance replayed as a transcript segment.
type Line struct {
	Speaker protocol.Speaker
	Text    string
}

// DefaultScript is a short sales call with one objection of each type.
var DefaultScript = []Line{
	{protocol.SpeakerSelf, "Hi, this is John from TechSolutions. How are you today?"},
	{protocol.SpeakerCounterpart, "Hi John, doing well thanks. How can I help you?"},
	{protocol.SpeakerSelf, "I'm calling because we saw you're looking at automation tools."},
	{protocol.SpeakerCounterpart, "That's right. But the price I saw on your site seems expensive."},
	{protocol.SpeakerSelf, "I understand. Let me walk you through the options."},
	{protocol.SpeakerCounterpart, "Honestly, now is not a good time for us."},
	{protocol.SpeakerSelf, "Got it. When would be a better time?"},
	{protocol.SpeakerCounterpart, "I'd have to check with my boss before deciding anything."},
	{protocol.SpeakerSelf, "Great, we'd be happy to talk with the decision maker."},
	{protocol.SpeakerCounterpart, "We already work with another vendor for this."},
	{protocol.SpeakerSelf, "Interesting. What do you like about your current vendor?"},
	{protocol.SpeakerCounterpart, "I'm not sure your solution would work for our use case."},
}

// Rule classifies an utterance as an objection of Type.
type Rule struct {
	Type    string
	Pattern *regexp.Regexp
}

// DefaultRules are the keyword rules applied to counterpart speech.
var DefaultRules = []Rule{
	{"price", regexp.MustCompile(`(?i)\b(expensive|price|cost|budget|too high|pricey)\b`)},
	{"timing", regexp.MustCompile(`(?i)\b(not a good time|not now|later|busy|no time)\b`)},
	{"authority", regexp.MustCompile(`(?i)\b(check with|my boss|not my decision|committee)\b`)},
	{"competition", regexp.MustCompile(`(?i)\b(already (use|work with)|another vendor|competitor)\b`)},
	{"trust", regexp.MustCompile(`(?i)\b(not sure|don't trust|doubt|would work)\b`)},
}

// DefaultPlaybook maps objection types to the suggested response.
var DefaultPlaybook = map[string]string{
	"price":       "Offer a two-week pilot so they can measure ROI with no risk.",
	"timing":      "Fit the start to their schedule. Ask what would make this a priority.",
	"authority":   "Book 15 minutes with the decision maker and resolve it together.",
	"competition": "Show where you win against the incumbent and how migration works.",
	"trust":       "Share metrics and two case studies from their industry.",
}

// classify returns the first rule matching text.
func classify(rules []Rule, text string) (string, bool) {
	for _, r := range rules {
		if r.Pattern.MatchString(text) {
			return r.Type, true
		}
	}
	return "", false
}
