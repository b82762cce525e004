package client

import (
	"context"
	"net/http"
)

// MachineStatus is the lifecycle state of a machine.
type MachineStatus string

const (
	MachineCreated    MachineStatus = "created"
	MachinePreparing  MachineStatus = "preparing"
	MachineStarting   MachineStatus = "starting"
	MachineRunning    MachineStatus = "running"
	MachineStopping   MachineStatus = "stopping"
	MachineStopped    MachineStatus = "stopped"
	MachineDestroying MachineStatus = "destroying"
	MachineDestroyed  MachineStatus = "destroyed"
)

// RestartPolicy controls whether the platform restarts an exited workload.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// MachineEventType names a machine lifecycle event.
type MachineEventType string

const (
	EventMachineCreated       MachineEventType = "machine.created"
	EventMachinePrepare       MachineEventType = "machine.prepare"
	EventMachinePrepared      MachineEventType = "machine.prepared"
	EventMachinePrepareFailed MachineEventType = "machine.prepare_failed"
	EventMachineStart         MachineEventType = "machine.start"
	EventMachineStartFailed   MachineEventType = "machine.start_failed"
	EventMachineStarted       MachineEventType = "machine.started"
	EventMachineStop          MachineEventType = "machine.stop"
	EventMachineStopFailed    MachineEventType = "machine.stop_failed"
	EventMachineExited        MachineEventType = "machine.exited"
	EventMachineDestroy       MachineEventType = "machine.destroy"
	EventMachineDestroyed     MachineEventType = "machine.destroyed"
)

// Origin identifies who triggered a machine event.
type Origin string

const (
	OriginRavel Origin = "ravel"
	OriginUser  Origin = "user"
)

// StopConfig controls how a machine is stopped.
type StopConfig struct {
	Timeout int    `json:"timeout,omitempty"` // seconds
	Signal  string `json:"signal,omitempty"`
}

// GuestConfig sizes the machine's virtual hardware.
type GuestConfig struct {
	CPUKind  string `json:"cpu_kind"`
	MemoryMB int    `json:"memory_mb"`
	CPUs     int    `json:"cpus"`
}

// InitConfig overrides the image's entrypoint and command.
type InitConfig struct {
	Cmd        []string `json:"cmd,omitempty"`
	Entrypoint []string `json:"entrypoint,omitempty"`
	User       string   `json:"user,omitempty"`
}

// RestartPolicyConfig configures workload restarts.
type RestartPolicyConfig struct {
	Policy     RestartPolicy `json:"policy,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
}

// Workload describes the process run inside the machine.
type Workload struct {
	Restart *RestartPolicyConfig `json:"restart,omitempty"`
	Env     []string             `json:"env,omitempty"`
	Init    *InitConfig          `json:"init,omitempty"`
}

// MachineConfig is the desired configuration of a machine.
type MachineConfig struct {
	Image       string      `json:"image"`
	Guest       GuestConfig `json:"guest"`
	Workload    Workload    `json:"workload"`
	StopConfig  *StopConfig `json:"stop_config,omitempty"`
	AutoDestroy bool        `json:"auto_destroy,omitempty"`
}

// Resources reports the capacity allocated to a machine.
type Resources struct {
	CPUsMHz  int `json:"cpus_mhz"`
	MemoryMB int `json:"memory_mb"`
}

// Machine is a single VM in a fleet.
type Machine struct {
	ID             string         `json:"id"`
	Namespace      string         `json:"namespace"`
	Fleet          string         `json:"fleet"`
	InstanceID     string         `json:"instance_id"`
	MachineVersion string         `json:"machine_version"`
	Region         string         `json:"region"`
	Config         MachineConfig  `json:"config"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	Events         []MachineEvent `json:"events"`
	State          MachineStatus  `json:"state"`
}

// MachineEvent is one entry of a machine's lifecycle history.
type MachineEvent struct {
	ID         string              `json:"id"`
	MachineID  string              `json:"machine_id"`
	InstanceID string              `json:"instance_id"`
	Status     MachineStatus       `json:"status"`
	Type       MachineEventType    `json:"type"`
	Origin     Origin              `json:"origin"`
	Payload    MachineEventPayload `json:"payload"`
	Timestamp  string              `json:"timestamp"`
}

// MachineEventPayload carries the event-specific details; at most one field
// is set, matching the event type.
type MachineEventPayload struct {
	PrepareFailed *ErrorEventPayload         `json:"prepare_failed,omitempty"`
	Stop          *MachineStopEventPayload   `json:"stop,omitempty"`
	Start         *MachineStartEventPayload  `json:"start,omitempty"`
	StartFailed   *ErrorEventPayload         `json:"start_failed,omitempty"`
	Started       *MachineStartedPayload     `json:"started,omitempty"`
	Stopped       *MachineExitedEventPayload `json:"stopped,omitempty"`
	Destroy       *MachineDestroyPayload     `json:"destroy,omitempty"`
}

type ErrorEventPayload struct {
	Error string `json:"error"`
}

type MachineStartEventPayload struct {
	IsRestart bool `json:"is_restart"`
}

type MachineStopEventPayload struct {
	Config *StopConfig `json:"config,omitempty"`
}

type MachineStartedPayload struct {
	StartedAt string `json:"started_at"`
}

type MachineExitedEventPayload struct {
	ExitCode int    `json:"exit_code"`
	ExitedAt string `json:"exited_at"`
}

type MachineDestroyPayload struct {
	AutoDestroy bool   `json:"auto_destroy"`
	Reason      string `json:"reason"`
	Force       bool   `json:"force"`
}

// CreateMachinePayload is the body of a machine creation call.
type CreateMachinePayload struct {
	Region    string        `json:"region"`
	Config    MachineConfig `json:"config"`
	SkipStart bool          `json:"skip_start"`
}

// LogEntry is one line of machine output. Timestamp is an opaque integer
// chosen by the server; it is compared, never converted.
type LogEntry struct {
	Timestamp  int64  `json:"timestamp"`
	InstanceID string `json:"instance_id"`
	Source     string `json:"source"`
	Level      string `json:"level"`
	Message    string `json:"message"`
}

// Machines is the machine resource service.
type Machines struct {
	client *Client
}

func machinesPath(fleet string) string {
	return "/fleets/" + escape(fleet) + "/machines"
}

// LogsPath returns the API path of a machine's log endpoint.
func LogsPath(fleet, machine string) string {
	return machinesPath(fleet) + "/" + escape(machine) + "/logs"
}

// Create creates a machine in fleet.
func (s *Machines) Create(ctx context.Context, fleet string, payload CreateMachinePayload) (*Machine, error) {
	var m Machine
	if err := s.client.Call(ctx, http.MethodPost, machinesPath(fleet), payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns the machines of fleet.
func (s *Machines) List(ctx context.Context, fleet string) ([]Machine, error) {
	var machines []Machine
	if err := s.client.Call(ctx, http.MethodGet, machinesPath(fleet), nil, &machines); err != nil {
		return nil, err
	}
	return machines, nil
}

// Get returns a single machine.
func (s *Machines) Get(ctx context.Context, fleet, machine string) (*Machine, error) {
	var m Machine
	if err := s.client.Call(ctx, http.MethodGet, machinesPath(fleet)+"/"+escape(machine), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Delete destroys a machine.
func (s *Machines) Delete(ctx context.Context, fleet, machine string) error {
	return s.client.Call(ctx, http.MethodDelete, machinesPath(fleet)+"/"+escape(machine), nil, nil)
}

// Logs returns the machine's buffered log entries without following. Use
// the logtail package to follow a live stream.
func (s *Machines) Logs(ctx context.Context, fleet, machine string) ([]LogEntry, error) {
	var entries []LogEntry
	if err := s.client.Call(ctx, http.MethodGet, LogsPath(fleet, machine)+"?follow=false", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
