package memory

import (
	"strings"
	"unicode/utf8"
)

// StorePolicy decides whether a finished exchange is worth keeping as a
// long-term memory. Thresholds count runes, not bytes, so Chinese text
// is measured the same way as ASCII.
type StorePolicy struct {
	MinUtteranceRunes   int
	MinReplyRunes       int
	ShortUtteranceRunes int
	ShortReplyRunes     int
	GreetingReplyRunes  int
	Greetings           []string
	PersonalMarkers     []string
}

// DefaultStorePolicy returns the policy tuned for casual Chinese chat.
func DefaultStorePolicy() StorePolicy {
	return StorePolicy{
		MinUtteranceRunes:   5,
		MinReplyRunes:       10,
		ShortUtteranceRunes: 8,
		ShortReplyRunes:     25,
		GreetingReplyRunes:  30,
		Greetings: []string{
			"你好", "hello", "hi", "嗨", "在吗", "在不在",
			"哈喽", "早上好", "晚上好", "嘿", "嗨嗨",
		},
		PersonalMarkers: []string{
			"我叫", "我是", "我的名字", "我来自", "我喜欢",
			"我不喜欢", "我的职业", "我工作", "我学习", "我住",
		},
	}
}

// Decision is a store verdict plus the rule that produced it.
type Decision struct {
	Stored bool   `json:"stored"`
	Reason string `json:"reason"`
}

// Decide evaluates the exchange against the rules in order. Personal
// information always wins, so a self-introduction is kept even when the
// reply alone would fail the length cutoffs.
func (p StorePolicy) Decide(utterance, reply string) Decision {
	user := strings.TrimSpace(utterance)
	assistant := strings.TrimSpace(reply)
	userLen := utf8.RuneCountInString(user)
	replyLen := utf8.RuneCountInString(assistant)

	for _, marker := range p.PersonalMarkers {
		if strings.Contains(user, marker) {
			return Decision{Stored: true, Reason: "personal_info"}
		}
	}

	if userLen < p.MinUtteranceRunes || replyLen < p.MinReplyRunes {
		return Decision{Stored: false, Reason: "too_short"}
	}

	lowered := strings.ToLower(user)
	for _, g := range p.Greetings {
		// Exact match only. An utterance that merely contains a greeting
		// ("this", "china" contain "hi") is not a greeting.
		if lowered == g && replyLen < p.GreetingReplyRunes {
			return Decision{Stored: false, Reason: "simple_greeting"}
		}
	}

	if userLen < p.ShortUtteranceRunes && replyLen < p.ShortReplyRunes {
		return Decision{Stored: false, Reason: "short_unimportant"}
	}

	return Decision{Stored: true, Reason: "substantive"}
}
