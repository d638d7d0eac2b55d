// Package action defines the closed set of automation action types and the
// runner that executes them through narrow collaborator interfaces.
//
// Collaborators (email, SMS, clinical writers) are black boxes: the engine
// only sees success or error. Their retry and rate-limit behavior is their
// own concern.
package action

// Type identifies an action kind. The set is closed: dispatch happens
// through a registration table keyed by Type, not free-form strings.
type Type string

const (
	TypeSendEmail               Type = "send_email"
	TypeSendSMS                 Type = "send_sms"
	TypeCreateNote              Type = "create_note"
	TypeCreateTask              Type = "create_task"
	TypeUpdatePatient           Type = "update_patient"
	TypeTagPatient              Type = "tag_patient"
	TypeUpdateAppointmentStatus Type = "update_appointment_status"
	TypeCreateInsurancePolicy   Type = "create_insurance_policy"

	// TypeDelaySeconds is a scheduling instruction, not a side effect.
	// The workflow engine suspends durably before the next action runs;
	// the Runner never executes it.
	TypeDelaySeconds Type = "delay_seconds"
)

// MaxDelaySeconds caps the delay primitive at 24 hours.
const MaxDelaySeconds = 86400

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	switch t {
	case TypeSendEmail, TypeSendSMS, TypeCreateNote, TypeCreateTask,
		TypeUpdatePatient, TypeTagPatient, TypeUpdateAppointmentStatus,
		TypeCreateInsurancePolicy, TypeDelaySeconds:
		return true
	}
	return false
}

// NeedsPatient reports whether the action type conventionally requires a
// patient reference in its arguments.
func (t Type) NeedsPatient() bool {
	switch t {
	case TypeCreateNote, TypeCreateTask, TypeUpdatePatient, TypeTagPatient,
		TypeCreateInsurancePolicy:
		return true
	}
	return false
}

// ResultStatus is the outcome of one executed action.
type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
)

// Result is what an action execution produced. The Runner never lets an
// error or panic escape past this type: one bad action must not abort the
// remaining actions of a rule.
type Result struct {
	Status ResultStatus   `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}
