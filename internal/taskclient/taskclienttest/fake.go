// Package taskclienttest provides a scripted in-memory task service for
// tests of code built on taskclient.
package taskclienttest

import (
	"context"
	"fmt"
	"sync"

	"krishi/internal/jsonx"
	"krishi/internal/taskclient"
)

// Started records one StartExecution call.
type Started struct {
	Task   taskclient.TaskID
	Input  taskclient.ExecutionRequest
	Handle taskclient.ExecutionHandle
}

// Response is one scripted GetExecutionStatus result.
type Response struct {
	Report taskclient.StatusReport
	Err    error
}

// Service is a scripted taskclient.Client. Every execution walks Script in
// order and repeats the last entry once the script is exhausted.
type Service struct {
	mu sync.Mutex

	DefineErr error
	StartErr  error
	Script    []Response
	// ScriptFor overrides Script per task name.
	ScriptFor map[string][]Response

	defined     []taskclient.TaskDefinition
	started     []Started
	statusCalls map[taskclient.ExecutionHandle]int
	taskNames   map[taskclient.TaskID]string
	handleTask  map[taskclient.ExecutionHandle]taskclient.TaskID
}

// New returns a service following script.
func New(script ...Response) *Service {
	return &Service{Script: script}
}

// Queued is a non-terminal queued report.
func Queued() Response {
	return Response{Report: taskclient.StatusReport{Status: taskclient.StatusQueued}}
}

// Running is a non-terminal running report.
func Running() Response {
	return Response{Report: taskclient.StatusReport{Status: taskclient.StatusRunning}}
}

// Succeeded wraps text in a chat completion envelope.
func Succeeded(text string) Response {
	return Response{Report: taskclient.StatusReport{Status: taskclient.StatusSucceeded, Output: Envelope(text)}}
}

// Failed reports a failed execution with message.
func Failed(message string) Response {
	return Response{Report: taskclient.StatusReport{
		Status: taskclient.StatusFailed,
		Error:  &taskclient.ErrorDetail{Message: message},
	}}
}

// Envelope builds {"choices":[{"message":{"content":text}}]}.
func Envelope(text string) jsonx.RawMessage {
	payload, err := jsonx.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": text}}},
	})
	if err != nil {
		panic(err)
	}
	return payload
}

func (s *Service) init() {
	if s.statusCalls == nil {
		s.statusCalls = make(map[taskclient.ExecutionHandle]int)
		s.taskNames = make(map[taskclient.TaskID]string)
		s.handleTask = make(map[taskclient.ExecutionHandle]taskclient.TaskID)
	}
}

func (s *Service) DefineTask(_ context.Context, def taskclient.TaskDefinition) (taskclient.TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.DefineErr != nil {
		return "", s.DefineErr
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	s.defined = append(s.defined, def)
	id := taskclient.TaskID(fmt.Sprintf("task-%d", len(s.defined)))
	s.taskNames[id] = def.Name
	return id, nil
}

func (s *Service) StartExecution(_ context.Context, task taskclient.TaskID, input taskclient.ExecutionRequest) (taskclient.ExecutionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.StartErr != nil {
		return "", s.StartErr
	}
	handle := taskclient.ExecutionHandle(fmt.Sprintf("exec-%d", len(s.started)+1))
	s.started = append(s.started, Started{Task: task, Input: input, Handle: handle})
	s.handleTask[handle] = task
	return handle, nil
}

func (s *Service) GetExecutionStatus(_ context.Context, handle taskclient.ExecutionHandle) (taskclient.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	script := s.Script
	if name, ok := s.taskNames[s.handleTask[handle]]; ok {
		if override, ok := s.ScriptFor[name]; ok {
			script = override
		}
	}
	call := s.statusCalls[handle]
	s.statusCalls[handle] = call + 1
	if len(script) == 0 {
		return taskclient.StatusReport{Status: taskclient.StatusRunning}, nil
	}
	if call >= len(script) {
		call = len(script) - 1
	}
	return script[call].Report, script[call].Err
}

// Defined returns the definitions registered so far.
func (s *Service) Defined() []taskclient.TaskDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]taskclient.TaskDefinition(nil), s.defined...)
}

// Started returns the executions started so far.
func (s *Service) Started() []Started {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Started(nil), s.started...)
}

// StatusCalls returns the total number of status polls across executions.
func (s *Service) StatusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.statusCalls {
		total += n
	}
	return total
}
