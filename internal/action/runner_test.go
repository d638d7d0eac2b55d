package action

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRunner_SendEmail(t *testing.T) {
	t.Parallel()

	loop := NewLoopback()
	runner := NewRunner(loop.Handlers(), testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeSendEmail, map[string]any{
		"to":      "pat@example.com",
		"subject": "Reminder",
		"body":    "See you tomorrow",
	})

	assert.Equal(t, ResultSucceeded, res.Status)
	require.Len(t, loop.Emails, 1)
	assert.Equal(t, "pat@example.com", loop.Emails[0].To)
	assert.Equal(t, "Reminder", loop.Emails[0].Subject)
	assert.Equal(t, []string{"tenant-1"}, loop.TenantCalls)
}

func TestRunner_SMSMessageFallback(t *testing.T) {
	t.Parallel()

	loop := NewLoopback()
	runner := NewRunner(loop.Handlers(), testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeSendSMS, map[string]any{
		"to":      "+15550100",
		"message": "Hi there",
	})

	assert.Equal(t, ResultSucceeded, res.Status)
	require.Len(t, loop.Texts, 1)
	assert.Equal(t, "Hi there", loop.Texts[0].Body)
}

func TestRunner_UnknownType(t *testing.T) {
	t.Parallel()

	runner := NewRunner(NewLoopback().Handlers(), testLogger())

	res := runner.Run(context.Background(), "tenant-1", Type("launch_rocket"), nil)

	assert.Equal(t, ResultFailed, res.Status)
	assert.Contains(t, res.Error, "unknown action type")
}

func TestRunner_UnregisteredHandler(t *testing.T) {
	t.Parallel()

	// No collaborators at all: valid types have nowhere to go.
	runner := NewRunner(Handlers{}, testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeCreateNote, map[string]any{
		"patientId": "p1",
		"content":   "note",
	})

	assert.Equal(t, ResultFailed, res.Status)
	assert.Contains(t, res.Error, "no handler registered")
}

func TestRunner_DelayIsNotRunnable(t *testing.T) {
	t.Parallel()

	runner := NewRunner(NewLoopback().Handlers(), testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeDelaySeconds, map[string]any{
		"seconds": 60,
	})

	assert.Equal(t, ResultFailed, res.Status)
}

type panickingEmail struct{}

func (panickingEmail) SendEmail(context.Context, string, EmailMessage) error {
	panic("smtp pool corrupted")
}

func TestRunner_PanicBecomesFailedResult(t *testing.T) {
	t.Parallel()

	runner := NewRunner(Handlers{Email: panickingEmail{}}, testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeSendEmail, map[string]any{
		"to": "pat@example.com",
	})

	assert.Equal(t, ResultFailed, res.Status)
	assert.Contains(t, res.Error, "panic")
}

type failingSMS struct{ err error }

func (f failingSMS) SendSMS(context.Context, string, SMSMessage) error { return f.err }

func TestRunner_HandlerErrorBecomesFailedResult(t *testing.T) {
	t.Parallel()

	runner := NewRunner(Handlers{SMS: failingSMS{err: errors.New("carrier rejected")}}, testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeSendSMS, map[string]any{
		"to":   "+15550100",
		"body": "hello",
	})

	assert.Equal(t, ResultFailed, res.Status)
	assert.Equal(t, "carrier rejected", res.Error)
}

func TestRunner_NumericArgsStringified(t *testing.T) {
	t.Parallel()

	loop := NewLoopback()
	runner := NewRunner(loop.Handlers(), testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeCreateTask, map[string]any{
		"patientId": float64(42),
		"title":     "Follow up",
	})

	assert.Equal(t, ResultSucceeded, res.Status)
	require.Len(t, loop.Tasks, 1)
	assert.Equal(t, "42", loop.Tasks[0].PatientID)
}

func TestRunner_UpdatePatientFields(t *testing.T) {
	t.Parallel()

	loop := NewLoopback()
	runner := NewRunner(loop.Handlers(), testLogger())

	res := runner.Run(context.Background(), "tenant-1", TypeUpdatePatient, map[string]any{
		"patientId": "p1",
		"fields": map[string]any{
			"status": "active",
			"score":  float64(7),
		},
	})

	assert.Equal(t, ResultSucceeded, res.Status)
	require.Len(t, loop.Updates, 1)
	assert.Equal(t, map[string]string{"status": "active", "score": "7"}, loop.Updates[0].Fields)
}
