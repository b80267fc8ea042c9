package hosts

import (
	"strings"

	"github.com/hie-engine/runtime-core/pkg/errors"
)

// ReplyAction is the outcome of classifying a reply code against an
// outbound operation's reply-code-action table (spec §4.4.3).
type ReplyAction string

const (
	ActionFail     ReplyAction = "Fail"
	ActionSuspend  ReplyAction = "Suspend"
	ActionComplete ReplyAction = "Complete"
	ActionWarning  ReplyAction = "Warning"
	ActionDisable  ReplyAction = "Disable"
)

// replyRule is one parsed "pattern=action" pair, kept in declared order —
// the first matching pattern wins.
type replyRule struct {
	pattern string
	action  ReplyAction
}

var actionLetters = map[string]ReplyAction{
	"F": ActionFail,
	"S": ActionSuspend,
	"C": ActionComplete,
	"W": ActionWarning,
	"D": ActionDisable,
}

// ParseReplyCodeActions parses the host.reply_code_actions string (spec
// §4.4.3), e.g. ":?R=F,:?E=S,:?A=C,:*=S". Patterns are kept verbatim —
// IRIS-compatibility categories like "I?", "T?", "~" are not reinterpreted,
// only matched (see matchPattern).
func ParseReplyCodeActions(spec string) ([]replyRule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var rules []replyRule
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, errors.ConfigErr("parse_reply_code_actions", "malformed rule \""+pair+"\"")
		}
		letter := strings.ToUpper(strings.TrimSpace(parts[1]))
		action, ok := actionLetters[letter]
		if !ok {
			return nil, errors.ConfigErr("parse_reply_code_actions", "unknown action \""+letter+"\" in rule \""+pair+"\"")
		}
		rules = append(rules, replyRule{pattern: strings.TrimSpace(parts[0]), action: action})
	}
	return rules, nil
}

// matchPattern reports whether code satisfies pattern. Pattern grammar
// (spec §4.4.3, IRIS-derived):
//   - a leading ':' is stripped and not matched against code
//   - "*" alone is a catch-all, always matches
//   - a single '?' adjacent to a literal run is a "beginning with" marker:
//     the literal run (whichever side of the '?') must prefix-match code
//   - anything else is matched verbatim against code (e.g. "~", a sentinel
//     for a transport-level failure with no ACK to classify)
func matchPattern(pattern, code string) bool {
	p := strings.TrimPrefix(pattern, ":")
	if p == "*" {
		return true
	}

	if idx := strings.IndexByte(p, '?'); idx >= 0 {
		literal := p[:idx] + p[idx+1:]
		if literal == "" {
			return true
		}
		return strings.HasPrefix(code, literal)
	}

	return p == code
}

// EvaluateReplyCode returns the action of the first rule whose pattern
// matches code, in declared order. With no matching rule (or an empty
// table) the conservative default is Fail — a misconfigured operation
// should surface loudly rather than silently suspend or complete.
func EvaluateReplyCode(rules []replyRule, code string) ReplyAction {
	for _, r := range rules {
		if matchPattern(r.pattern, code) {
			return r.action
		}
	}
	return ActionFail
}
