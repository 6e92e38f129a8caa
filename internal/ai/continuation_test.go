package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksIncomplete(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		incomplete bool
	}{
		{
			name:       "complete sentence",
			text:       "The deployment finished without errors and all twelve services reported healthy. No further action is needed.",
			incomplete: false,
		},
		{
			name:       "very short response",
			text:       "It depends.",
			incomplete: true,
		},
		{
			name:       "ends on connective",
			text:       "The first phase copies the data to the new cluster, validates the checksums, and therefore",
			incomplete: true,
		},
		{
			name:       "unclosed code fence",
			text:       "Here is the configuration you asked for, with comments explaining each field:\n```yaml\nreplicas: 3\nresources:",
			incomplete: true,
		},
		{
			name:       "trailing list marker",
			text:       "There are three things to check before rolling back the release to production:\n1. The database schema\n2.",
			incomplete: true,
		},
		{
			name:       "trailing section header",
			text:       "The incident had two distinct root causes, described in the sections below in order of impact.\n\n## Root cause 1",
			incomplete: true,
		},
		{
			name:       "mid number cut",
			text:       "After aggregating the monthly invoices across all regions the projected total for the quarter comes to 1847",
			incomplete: true,
		},
		{
			name:       "closed code fence",
			text:       "Use this snippet to reproduce the failure locally before filing the report:\n```go\npanic(\"boom\")\n```\nThat is all.",
			incomplete: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.incomplete, looksIncomplete(tt.text))
		})
	}
}

func TestStripOverlap(t *testing.T) {
	t.Run("strips repeated phrase once", func(t *testing.T) {
		existing := "After adding the line items and applying the discount, the total cost is"
		continuation := "the total cost is $42. Shipping is included in that figure."

		merged := existing + stripOverlap(existing, continuation)
		assert.Equal(t, "After adding the line items and applying the discount, the total cost is $42. Shipping is included in that figure.", merged)
	})

	t.Run("no overlap passes through", func(t *testing.T) {
		continuation := "approximately half of the requests were retried."
		assert.Equal(t, continuation, stripOverlap("The cache hit rate dropped because", continuation))
	})

	t.Run("case insensitive match", func(t *testing.T) {
		got := stripOverlap("the final answer is", "The Final Answer Is forty-two.")
		assert.Equal(t, " forty-two.", got)
	})

	t.Run("identical continuation strips to nothing", func(t *testing.T) {
		got := stripOverlap("nothing more to add here", "nothing more to add here")
		assert.Equal(t, "", got)
	})

	t.Run("overlap capped at ten words", func(t *testing.T) {
		phrase := "one two three four five six seven eight nine ten eleven twelve"
		// Only the last ten words of the tail are considered, so the
		// full twelve-word repeat still matches on its ten-word suffix.
		got := stripOverlap(phrase, "three four five six seven eight nine ten eleven twelve and more")
		assert.Equal(t, " and more", got)
	})
}
