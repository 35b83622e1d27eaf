package application_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"

	"smart-room/internal/application"
)

func TestActivityLog_KeepsMostRecentEntries(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	log := application.NewActivityLog(0, clk, discardLogger())

	var streamed int
	log.Subscribe(func(application.ActivityEntry) { streamed++ })

	for i := 1; i <= 8; i++ {
		log.Add(fmt.Sprintf("entry %d", i))
	}
	log.Warn("entry 9")

	entries := log.Entries()
	assert.Len(t, entries, application.DefaultActivitySize)
	assert.Equal(t, "entry 5", entries[0].Message)
	assert.Equal(t, "entry 9", entries[4].Message)
	assert.True(t, entries[4].Warning)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, 9, log.Total())
	assert.Equal(t, 9, streamed)
}
