package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetermineStrategy(t *testing.T) {
	tests := []struct {
		query string
		want  Strategy
	}{
		{"OpenAI", StrategyLiteral},
		{"john@example.com", StrategyLiteral},
		{"Q3", StrategyLiteral},
		{`"quarterly plan"`, StrategyLiteral},
		{"budget review for the launch", StrategySemantic},
		{"roadmap", StrategySemantic},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineStrategy(tt.query))
		})
	}
}

func TestRequest_Validate(t *testing.T) {
	scope := Scope{UserID: "u1"}
	now := time.Now()
	earlier := now.Add(-time.Hour)

	assert.NoError(t, Request{Scope: scope, Mode: ModeMetadata}.Validate())
	assert.ErrorIs(t, Request{Mode: ModeMetadata}.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, Request{Scope: scope, Mode: ModeContent}.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, Request{Scope: scope, Mode: ModeMetadata, Offset: -1}.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, Request{Scope: scope, Mode: ModeMetadata, StartTime: &now, EndTime: &earlier}.Validate(), ErrInvalidArgument)
}
