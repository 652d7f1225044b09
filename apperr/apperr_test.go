package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		text string
	}{
		{"not found", NotFound("NPCs", "abc"), IsNotFound, `not found: NPCs "abc"`},
		{"configuration", Configuration("stats", "missing wisdom"), IsConfiguration, "configuration error: stats: missing wisdom"},
		{"validation", Validation("prompter", "id is required"), IsValidation, "validation error: prompter: id is required"},
		{"capability", Capability("generate", errors.New("quota")), IsCapability, "capability error [generate]: quota"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.text, tt.err.Error())
			require.True(t, tt.is(tt.err))

			wrapped := fmt.Errorf("chain.Orchestrator.Invoke: %w", tt.err)
			require.True(t, tt.is(wrapped), "classification must survive wrapping")
		})
	}
}

func TestCapabilityErrorUnwrap(t *testing.T) {
	cause := errors.New("deadline exceeded")
	err := Capability("embed", cause)
	require.ErrorIs(t, err, cause)
	require.False(t, IsNotFound(err))
}
