package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devradar/devradar/pkg/models"
)

func TestPriorityFromRank(t *testing.T) {
	assert.Equal(t, models.PriorityHigh, priorityFromRank(1))
	assert.Equal(t, models.PriorityNormal, priorityFromRank(2))
	assert.Equal(t, models.PriorityLow, priorityFromRank(3))
	assert.Equal(t, models.PriorityNormal, priorityFromRank(99))
}
