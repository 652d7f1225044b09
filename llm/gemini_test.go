package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/sat8bit/tavern/history"
)

func TestExtractText(t *testing.T) {
	require.Equal(t, "", extractText(nil))
	require.Equal(t, "", extractText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []*genai.Part{{Text: ""}, {Text: "Dark ale, love."}}}},
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "ignored"}}}},
		},
	}
	require.Equal(t, "Dark ale, love.", extractText(resp))
}

func TestSpeakerLine(t *testing.T) {
	require.Equal(t, "Mabel: Welcome in.", speakerLine(history.Message{Speaker: "Mabel", Content: "Welcome in."}))
	require.Equal(t, "Welcome in.", speakerLine(history.Message{Content: "Welcome in."}))
}
