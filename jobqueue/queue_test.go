package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobSubject(t *testing.T) {
	j := &Job{Action: ActionFetch, Priority: PriorityHigh}
	assert.Equal(t, "jobs.fetch.high", j.subject("jobs"))

	j = &Job{Action: ActionSync, Priority: PriorityNormal}
	assert.Equal(t, "jobs.sync.normal", j.subject("jobs"))
}

func TestPriorityValid(t *testing.T) {
	assert.True(t, PriorityNormal.valid())
	assert.True(t, PriorityHigh.valid())
	assert.False(t, Priority("urgent").valid())
	assert.False(t, Priority("").valid())
}

func TestRetryDelayBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(1))
	assert.Equal(t, 10*time.Second, retryDelay(2))
	assert.Equal(t, 20*time.Second, retryDelay(3))
	assert.Equal(t, 2*time.Minute, retryDelay(10))
}
