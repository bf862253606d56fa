package nlsearch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/cvefeed-backend/internal/params"
	"github.com/ortelius/cvefeed-backend/internal/search"
)

// scriptedModel replies with its script in order, repeating the last entry.
type scriptedModel struct {
	replies []string
	err     error
	seen    []Transcript
}

func (m *scriptedModel) Complete(_ context.Context, t Transcript) (string, error) {
	m.seen = append(m.seen, t)
	if m.err != nil {
		return "", m.err
	}
	i := len(m.seen) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

func newValidator(t *testing.T) *search.Validator {
	t.Helper()
	reg, err := params.Default()
	require.NoError(t, err)
	return search.NewValidator(reg)
}

func TestResolveFirstReplyValid(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"```json\n{\"filter_params\": [{\"parameter\": \"product\", \"included_values\": [\"openssh\"]}], \"sort_params\": []}\n```",
	}}

	o := NewOrchestrator(newValidator(t), model, 0, nil)
	o.now = func() time.Time { return time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC) }
	result, err := o.Resolve(context.Background(), "openssh bugs")
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 0, result.Retries)
	require.Len(t, result.Payload.Filters(), 1)
	assert.Equal(t, "product", result.Payload.Filters()[0].Parameter())

	require.Len(t, model.seen, 1)
	prompt := model.seen[0].Messages()[0]
	assert.Equal(t, RoleUser, prompt.Role)
	assert.True(t, strings.HasSuffix(prompt.Content, "openssh bugs"))
	assert.Contains(t, prompt.Content, "Today's date is 2024-07-01T00:00:00Z.")
	assert.Equal(t, 2, result.Transcript.Len())
}

func TestResolveCorrectsAfterValidationErrors(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"filter_params": [{"parameter": "severity", "included_values": ["high"]}], "sort_params": []}`,
		`{"filter_params": [{"parameter": "baseSeverity", "included_values": ["high"]}], "sort_params": [{"parameter": "date_public", "direction": "high"}]}`,
	}}

	result, err := NewOrchestrator(newValidator(t), model, 0, nil).Resolve(context.Background(), "high severity")
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.Equal(t, 1, result.Retries)

	require.Len(t, model.seen, 2)
	retry := model.seen[1].Messages()
	require.Len(t, retry, 3)
	assert.Equal(t, RoleAssistant, retry[1].Role)
	assert.Equal(t, RoleUser, retry[2].Role)
	assert.Contains(t, retry[2].Content, "I just ran your previous function call through a validator")
	assert.Contains(t, retry[2].Content, "Filter parameter severity is not in the list of possible parameters.")

	// the first request's transcript is unchanged by later turns
	assert.Equal(t, 1, model.seen[0].Len())
}

func TestResolveGivesUpAfterRetryBudget(t *testing.T) {
	model := &scriptedModel{replies: []string{"I cannot help with that."}}

	result, err := NewOrchestrator(newValidator(t), model, 0, nil).Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Nil(t, result.Payload)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "could not be parsed")
	assert.Equal(t, DefaultMaxRetries, result.Retries)
	assert.Len(t, model.seen, DefaultMaxRetries+1)
}

func TestResolveModelFailure(t *testing.T) {
	model := &scriptedModel{err: errors.New("connection refused")}

	result, err := NewOrchestrator(newValidator(t), model, 2, nil).Resolve(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Nil(t, result.Payload)
	assert.Empty(t, result.Errors)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "AWAIT_MODEL", StateAwaitModel.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "State(42)", State(42).String())
}
