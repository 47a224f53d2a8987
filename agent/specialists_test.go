package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecialistRouting(t *testing.T) {
	assert.Equal(t, "financial-analyst", specialistFor(IntentFinancial).Name)
	assert.Equal(t, "knowledge-graph-analyst", specialistFor(IntentGraph).Name)
	assert.Equal(t, "drafter", specialistFor(IntentDrafting).Name)
	assert.Equal(t, "researcher", specialistFor(IntentLookup).Name)
	assert.Equal(t, "generalist", specialistFor("unknown-intent").Name)
}

func TestSpecialistTiers(t *testing.T) {
	// Analysts get the advanced toolset; conversational specialists do not.
	assert.Equal(t, TierAdvanced, specialistFor(IntentFinancial).MaxTier)
	assert.Equal(t, TierAdvanced, specialistFor(IntentGraph).MaxTier)
	assert.Equal(t, TierBasic, specialistFor(IntentGeneral).MaxTier)
	assert.Equal(t, TierBasic, specialistFor(IntentDrafting).MaxTier)
}

func TestStreamAnswerChunks(t *testing.T) {
	var events []Event
	sink := Sink(func(e Event) { events = append(events, e) })

	answer := "Revenue grew from $8.9M to $12.4M between FY2022 and FY2023."
	streamAnswer(sink, answer)

	var rebuilt string
	for _, e := range events {
		assert.Equal(t, EventToken, e.Type)
		rebuilt += e.Data.(string)
	}
	assert.Equal(t, answer, rebuilt)
	assert.Greater(t, len(events), 1)
}
