package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyCodeActionsOrderAndActions(t *testing.T) {
	rules, err := ParseReplyCodeActions(":?R=F,:?E=S,:?A=C,:*=S")
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, ActionFail, rules[0].action)
	assert.Equal(t, ActionSuspend, rules[1].action)
	assert.Equal(t, ActionComplete, rules[2].action)
	assert.Equal(t, ActionSuspend, rules[3].action)
}

func TestParseReplyCodeActionsRejectsMalformedEntry(t *testing.T) {
	_, err := ParseReplyCodeActions(":?A")
	assert.Error(t, err)
}

func TestParseReplyCodeActionsRejectsUnknownAction(t *testing.T) {
	_, err := ParseReplyCodeActions(":?A=Z")
	assert.Error(t, err)
}

func TestEvaluateReplyCodeFirstMatchWins(t *testing.T) {
	// ":?A" matches any code beginning with "A" (AA, AE, AR); ":?Z" never
	// matches a real ack code, so it stays unreachable behind the catch-all.
	rules, err := ParseReplyCodeActions(":?Z=F,:?A=C,:*=S")
	require.NoError(t, err)

	assert.Equal(t, ActionComplete, EvaluateReplyCode(rules, "AR"))
	assert.Equal(t, ActionComplete, EvaluateReplyCode(rules, "AE"))
	assert.Equal(t, ActionComplete, EvaluateReplyCode(rules, "AA"))
	assert.Equal(t, ActionSuspend, EvaluateReplyCode(rules, "XX"))
	assert.Equal(t, ActionFail, EvaluateReplyCode(rules, "ZZ"))
}

func TestEvaluateReplyCodeIRISCategoriesPreserved(t *testing.T) {
	rules, err := ParseReplyCodeActions(":I?=W,:T?=C,:~=F")
	require.NoError(t, err)

	assert.Equal(t, ActionWarning, EvaluateReplyCode(rules, "IA"))
	assert.Equal(t, ActionComplete, EvaluateReplyCode(rules, "TO"))
	assert.Equal(t, ActionFail, EvaluateReplyCode(rules, "~"))
}

func TestEvaluateReplyCodeNoMatchDefaultsToFail(t *testing.T) {
	rules, err := ParseReplyCodeActions(":?A=C")
	require.NoError(t, err)
	assert.Equal(t, ActionFail, EvaluateReplyCode(rules, "ZZ"))
}
