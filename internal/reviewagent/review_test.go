package reviewagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronbassett/paige/internal/model"
)

func TestRun_ParsesJSONFencedResult(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{textResponse("```json\n" +
		`{"overallFeedback":"looks good","codeComments":[{"filePath":"a.go","startLine":1,"endLine":2,"comment":"nice","severity":"praise"}]}` +
		"\n```")}}

	result, err := Run(context.Background(), Request{
		Client: client, Resolver: fakeResolver{}, ProjectDir: t.TempDir(),
		Scope: ScopeCurrentFile, ScopeDetail: "a.go",
	})
	require.NoError(t, err)
	assert.Equal(t, "looks good", result.OverallFeedback)
	require.Len(t, result.CodeComments, 1)
	assert.Equal(t, SeverityPraise, result.CodeComments[0].Severity)
}

func TestRun_FallsBackToUnstructuredOnParseFailure(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{textResponse("I couldn't find anything structured to say.")}}

	result, err := Run(context.Background(), Request{
		Client: client, Resolver: fakeResolver{}, ProjectDir: t.TempDir(),
		Scope: ScopeCurrentFile,
	})
	require.NoError(t, err)
	assert.Equal(t, "I couldn't find anything structured to say.", result.OverallFeedback)
	assert.Empty(t, result.CodeComments)
}

func TestStripJSONFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, stripJSONFence(in))
}

func TestStripJSONFence_NoFence(t *testing.T) {
	in := `{"a":1}`
	assert.Equal(t, in, stripJSONFence(in))
}
