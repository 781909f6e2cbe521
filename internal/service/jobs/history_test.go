package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

func TestHistory_KeepsNewest(t *testing.T) {
	h := NewHistory(2)

	_, ok := h.Last()
	assert.False(t, ok)

	for _, id := range []string{"a", "b", "c"} {
		h.Record(model.JobReport{RunID: id})
	}

	recent := h.Recent()
	assert.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].RunID)

	last, ok := h.Last()
	assert.True(t, ok)
	assert.Equal(t, "c", last.RunID)
}
