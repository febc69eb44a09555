package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func createTestWatchdog(usage float64, usageErr error) (*Watchdog, *MockMessageLog) {
	messages := new(MockMessageLog)
	w := NewWatchdog(DefaultWatchdogConfig(), messages)
	w.diskUsage = func(context.Context, string) (float64, error) {
		return usage, usageErr
	}
	return w, messages
}

func TestWatchdog_BelowThresholdDoesNothing(t *testing.T) {
	w, messages := createTestWatchdog(42, nil)

	assert.Equal(t, int64(0), w.Check(context.Background()))
	messages.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything, mock.Anything)
}

func TestWatchdog_AboveThresholdPurges(t *testing.T) {
	w, messages := createTestWatchdog(85.5, nil)
	ctx := context.Background()
	messages.On("Purge", ctx, 7*24*time.Hour, 1000).Return(int64(250), nil)

	assert.Equal(t, int64(250), w.Check(ctx))
	messages.AssertExpectations(t)
}

func TestWatchdog_Errors(t *testing.T) {
	w, messages := createTestWatchdog(0, errors.New("statfs failed"))
	assert.Equal(t, int64(0), w.Check(context.Background()))
	messages.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything, mock.Anything)

	w, messages = createTestWatchdog(99, nil)
	messages.On("Purge", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("deadlock"))
	assert.Equal(t, int64(0), w.Check(context.Background()))
}

func TestWatchdog_StartRejectsBadSchedule(t *testing.T) {
	messages := new(MockMessageLog)
	cfg := DefaultWatchdogConfig()
	cfg.Schedule = "not a cron"
	w := NewWatchdog(cfg, messages)

	assert.Error(t, w.Start(context.Background()))
}

func TestWatchdog_StartStop(t *testing.T) {
	w, _ := createTestWatchdog(0, nil)

	assert.NoError(t, w.Start(context.Background()))
	w.Stop()
}
