package action

import (
	"context"
	"sync"
)

// Loopback implements every collaborator in memory. It backs local serve
// mode, where no downstream systems are wired, and records each call so
// tests can assert on delivery.
type Loopback struct {
	mu sync.Mutex

	Emails       []EmailMessage
	Texts        []SMSMessage
	Notes        []Note
	Tasks        []Task
	Updates      []PatientUpdate
	Tags         []PatientTag
	StatusMoves  []AppointmentStatusChange
	Policies     []InsurancePolicy
	TenantCalls  []string
}

// NewLoopback returns an empty recorder.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Handlers wires the loopback into every collaborator slot.
func (l *Loopback) Handlers() Handlers {
	return Handlers{
		Email:        l,
		SMS:          l,
		Notes:        l,
		Tasks:        l,
		Patients:     l,
		Tags:         l,
		Appointments: l,
		Insurance:    l,
	}
}

func (l *Loopback) record(tenantID string, store func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.TenantCalls = append(l.TenantCalls, tenantID)
	store()
}

func (l *Loopback) SendEmail(_ context.Context, tenantID string, msg EmailMessage) error {
	l.record(tenantID, func() { l.Emails = append(l.Emails, msg) })
	return nil
}

func (l *Loopback) SendSMS(_ context.Context, tenantID string, msg SMSMessage) error {
	l.record(tenantID, func() { l.Texts = append(l.Texts, msg) })
	return nil
}

func (l *Loopback) CreateNote(_ context.Context, tenantID string, note Note) error {
	l.record(tenantID, func() { l.Notes = append(l.Notes, note) })
	return nil
}

func (l *Loopback) CreateTask(_ context.Context, tenantID string, task Task) error {
	l.record(tenantID, func() { l.Tasks = append(l.Tasks, task) })
	return nil
}

func (l *Loopback) UpdatePatient(_ context.Context, tenantID string, update PatientUpdate) error {
	l.record(tenantID, func() { l.Updates = append(l.Updates, update) })
	return nil
}

func (l *Loopback) TagPatient(_ context.Context, tenantID string, tag PatientTag) error {
	l.record(tenantID, func() { l.Tags = append(l.Tags, tag) })
	return nil
}

func (l *Loopback) UpdateAppointmentStatus(_ context.Context, tenantID string, change AppointmentStatusChange) error {
	l.record(tenantID, func() { l.StatusMoves = append(l.StatusMoves, change) })
	return nil
}

func (l *Loopback) CreateInsurancePolicy(_ context.Context, tenantID string, policy InsurancePolicy) error {
	l.record(tenantID, func() { l.Policies = append(l.Policies, policy) })
	return nil
}

// Count returns the total number of recorded side effects.
func (l *Loopback) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.TenantCalls)
}
