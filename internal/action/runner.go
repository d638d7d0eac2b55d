package action

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// handlerFunc executes one action kind and returns an output summary.
type handlerFunc func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error)

// Runner dispatches typed actions to their collaborators.
type Runner struct {
	handlers map[Type]handlerFunc
	logger   *slog.Logger
}

// NewRunner builds the registration table from the configured collaborators.
func NewRunner(h Handlers, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		handlers: make(map[Type]handlerFunc),
		logger:   logger,
	}

	if h.Email != nil {
		r.handlers[TypeSendEmail] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			msg := EmailMessage{
				To:      argString(args, "to"),
				Subject: argString(args, "subject"),
				Body:    argString(args, "body"),
			}
			if err := h.Email.SendEmail(ctx, tenantID, msg); err != nil {
				return nil, err
			}
			return map[string]any{"to": msg.To, "subject": msg.Subject}, nil
		}
	}

	if h.SMS != nil {
		r.handlers[TypeSendSMS] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			msg := SMSMessage{
				To:   argString(args, "to"),
				Body: argString(args, "body"),
			}
			if msg.Body == "" {
				msg.Body = argString(args, "message")
			}
			if err := h.SMS.SendSMS(ctx, tenantID, msg); err != nil {
				return nil, err
			}
			return map[string]any{"to": msg.To}, nil
		}
	}

	if h.Notes != nil {
		r.handlers[TypeCreateNote] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			note := Note{
				PatientID: argString(args, "patientId"),
				Type:      argString(args, "type"),
				Content:   argString(args, "content"),
			}
			if err := h.Notes.CreateNote(ctx, tenantID, note); err != nil {
				return nil, err
			}
			return map[string]any{"patientId": note.PatientID, "type": note.Type}, nil
		}
	}

	if h.Tasks != nil {
		r.handlers[TypeCreateTask] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			task := Task{
				PatientID:   argString(args, "patientId"),
				Title:       argString(args, "title"),
				Description: argString(args, "description"),
				DueDate:     argString(args, "dueDate"),
			}
			if err := h.Tasks.CreateTask(ctx, tenantID, task); err != nil {
				return nil, err
			}
			return map[string]any{"patientId": task.PatientID, "title": task.Title}, nil
		}
	}

	if h.Patients != nil {
		r.handlers[TypeUpdatePatient] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			update := PatientUpdate{
				PatientID: argString(args, "patientId"),
				Fields:    argStringMap(args, "fields"),
			}
			if err := h.Patients.UpdatePatient(ctx, tenantID, update); err != nil {
				return nil, err
			}
			return map[string]any{"patientId": update.PatientID, "fields": len(update.Fields)}, nil
		}
	}

	if h.Tags != nil {
		r.handlers[TypeTagPatient] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			tag := PatientTag{
				PatientID: argString(args, "patientId"),
				Tag:       argString(args, "tag"),
			}
			if err := h.Tags.TagPatient(ctx, tenantID, tag); err != nil {
				return nil, err
			}
			return map[string]any{"patientId": tag.PatientID, "tag": tag.Tag}, nil
		}
	}

	if h.Appointments != nil {
		r.handlers[TypeUpdateAppointmentStatus] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			change := AppointmentStatusChange{
				AppointmentID: argString(args, "appointmentId"),
				Status:        argString(args, "status"),
			}
			if err := h.Appointments.UpdateAppointmentStatus(ctx, tenantID, change); err != nil {
				return nil, err
			}
			return map[string]any{"appointmentId": change.AppointmentID, "status": change.Status}, nil
		}
	}

	if h.Insurance != nil {
		r.handlers[TypeCreateInsurancePolicy] = func(ctx context.Context, tenantID string, args map[string]any) (map[string]any, error) {
			policy := InsurancePolicy{
				PatientID:   argString(args, "patientId"),
				Provider:    argString(args, "provider"),
				MemberID:    argString(args, "memberId"),
				GroupNumber: argString(args, "groupNumber"),
			}
			if err := h.Insurance.CreateInsurancePolicy(ctx, tenantID, policy); err != nil {
				return nil, err
			}
			return map[string]any{"patientId": policy.PatientID, "provider": policy.Provider}, nil
		}
	}

	return r
}

// Run executes a single action and converts every failure mode, including
// handler panics, into a failed Result. Errors never escape past here.
func (r *Runner) Run(ctx context.Context, tenantID string, actionType Type, args map[string]any) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("action handler panicked",
				"action", actionType,
				"tenant", tenantID,
				"panic", p)
			result = Result{
				Status: ResultFailed,
				Error:  fmt.Sprintf("action handler panic: %v", p),
			}
		}
	}()

	if actionType == TypeDelaySeconds {
		return Result{
			Status: ResultFailed,
			Error:  "delay_seconds is a scheduling instruction handled by the engine",
		}
	}

	handler, ok := r.handlers[actionType]
	if !ok {
		if !actionType.Valid() {
			return Result{
				Status: ResultFailed,
				Error:  fmt.Sprintf("unknown action type: %s", actionType),
			}
		}
		return Result{
			Status: ResultFailed,
			Error:  fmt.Sprintf("no handler registered for action type: %s", actionType),
		}
	}

	output, err := handler(ctx, tenantID, args)
	if err != nil {
		r.logger.Warn("action failed",
			"action", actionType,
			"tenant", tenantID,
			"error", err)
		return Result{Status: ResultFailed, Error: err.Error()}
	}

	return Result{Status: ResultSucceeded, Output: output}
}

// argString reads an argument as a string, rendering numbers and booleans
// the way template output would.
func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// argStringMap reads a nested map argument with stringified values.
func argStringMap(args map[string]any, key string) map[string]string {
	nested, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(nested))
	for k := range nested {
		out[k] = argString(nested, k)
	}
	return out
}
