package action

import "context"

// EmailMessage is an outbound email request.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

// SMSMessage is an outbound text message request.
type SMSMessage struct {
	To   string
	Body string
}

// Note is a clinical or administrative note attached to a patient.
type Note struct {
	PatientID string
	Type      string
	Content   string
}

// Task is a staff task attached to a patient.
type Task struct {
	PatientID   string
	Title       string
	Description string
	DueDate     string
}

// PatientUpdate sets individual fields on a patient record.
type PatientUpdate struct {
	PatientID string
	Fields    map[string]string
}

// PatientTag attaches a tag to a patient.
type PatientTag struct {
	PatientID string
	Tag       string
}

// AppointmentStatusChange transitions an appointment's status.
type AppointmentStatusChange struct {
	AppointmentID string
	Status        string
}

// InsurancePolicy is a new insurance policy for a patient.
type InsurancePolicy struct {
	PatientID   string
	Provider    string
	MemberID    string
	GroupNumber string
}

// One interface per side effect. Implementations wrap provider clients or
// domain services; the engine treats them as black boxes returning
// success or error.

type EmailSender interface {
	SendEmail(ctx context.Context, tenantID string, msg EmailMessage) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, tenantID string, msg SMSMessage) error
}

type NoteWriter interface {
	CreateNote(ctx context.Context, tenantID string, note Note) error
}

type TaskWriter interface {
	CreateTask(ctx context.Context, tenantID string, task Task) error
}

type PatientUpdater interface {
	UpdatePatient(ctx context.Context, tenantID string, update PatientUpdate) error
}

type PatientTagger interface {
	TagPatient(ctx context.Context, tenantID string, tag PatientTag) error
}

type AppointmentUpdater interface {
	UpdateAppointmentStatus(ctx context.Context, tenantID string, change AppointmentStatusChange) error
}

type InsuranceWriter interface {
	CreateInsurancePolicy(ctx context.Context, tenantID string, policy InsurancePolicy) error
}

// Handlers bundles the collaborator set wired into a Runner.
// A nil collaborator leaves its action type unregistered; running it
// yields a failed Result rather than an error.
type Handlers struct {
	Email        EmailSender
	SMS          SMSSender
	Notes        NoteWriter
	Tasks        TaskWriter
	Patients     PatientUpdater
	Tags         PatientTagger
	Appointments AppointmentUpdater
	Insurance    InsuranceWriter
}
