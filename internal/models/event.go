// Package models defines the shared data types exchanged between the
// sentinel detection pipeline, the response orchestrator, and the HTTP API.
package models

import (
	"errors"
	"time"
)

// ErrMissingIdentity is returned when an inbound event carries no source identity.
var ErrMissingIdentity = errors.New("no source identity provided")

// ErrMissingStatus is returned when an inbound event carries no status code.
var ErrMissingStatus = errors.New("no status code provided")

// RequestEvent is one per-request security signal emitted by the edge.
// Identity is the opaque partition key, in practice a normalized source
// network address.
type RequestEvent struct {
	Identity  string    `json:"identity"`
	Status    string    `json:"status"`
	UserAgent string    `json:"user_agent"`
	Method    string    `json:"method"`
	Resource  string    `json:"resource"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the fields the pipeline cannot proceed without.
// All other fields default to the empty string and score zero.
func (e *RequestEvent) Validate() error {
	if e.Identity == "" {
		return ErrMissingIdentity
	}
	if e.Status == "" {
		return ErrMissingStatus
	}
	return nil
}

// AlarmState values for AlarmSignal. Only AlarmStateAlarm produces action.
const (
	AlarmStateOK               = "OK"
	AlarmStateAlarm            = "ALARM"
	AlarmStateInsufficientData = "INSUFFICIENT_DATA"
)

// AlarmSignal is an alarm-state-change record consumed by the response
// orchestrator.
type AlarmSignal struct {
	AlarmName  string `json:"alarm_name"`
	AlarmState string `json:"alarm_state"`
	Reason     string `json:"alarm_reason,omitempty"`
}

// ProcessResult is the structured outcome of scoring a single event.
type ProcessResult struct {
	Identity   string `json:"identity"`
	AbuseScore int    `json:"abuse_score"`
	AlertSent  bool   `json:"alert_sent"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// Alert is a persisted record of a threshold crossing.
type Alert struct {
	ID         string    `json:"id"`
	Identity   string    `json:"identity"`
	AbuseScore int       `json:"abuse_score"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`
	Resource   string    `json:"resource"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
}
