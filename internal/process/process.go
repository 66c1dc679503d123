// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FootageManager - DJI 航拍素材合并管理工具
//
// Package process wraps exec.Cmd for controlling an external merge or
// stabilization tool.

package process

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"
)

// Process represents a single external tool invocation
type Process interface {
	Status() Status
	Start() error
	// Wait blocks until the process exits. nil means exit code 0 and a
	// *TimeoutError means the configured timeout fired.
	Wait() error
	Stop(wait bool) error
	IsRunning() bool
	Log() []Line
}

// Config for a process
type Config struct {
	Binary        string
	Args          []string
	Timeout       time.Duration
	LogLines      int
	Parser        Parser
	OnStart       func()
	OnExit        func()
	OnStateChange func(from, to string)
	Logger        Logger
}

// Status of a process
type Status struct {
	State    string
	Order    string
	Duration time.Duration
	Time     time.Time
	CPU      float64
	Memory   uint64
}

// Logger interface
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// TimeoutError means the tool exceeded the configured bound and was killed.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

type stateType string

const (
	stateFinished  stateType = "finished"
	stateStarting  stateType = "starting"
	stateRunning   stateType = "running"
	stateFinishing stateType = "finishing"
	stateFailed    stateType = "failed"
	stateKilled    stateType = "killed"
)

func (s stateType) String() string { return string(s) }

func (s stateType) IsRunning() bool {
	return s == stateStarting || s == stateRunning || s == stateFinishing
}

type process struct {
	binary string
	args   []string
	cmd    *exec.Cmd
	pid    int32
	stdout io.ReadCloser

	state struct {
		state stateType
		time  time.Time
		lock  sync.Mutex
	}
	order struct {
		order string
		lock  sync.Mutex
	}
	timeout struct {
		duration time.Duration
		timer    *time.Timer
		fired    bool
		lock     sync.Mutex
	}
	exit struct {
		done chan struct{}
		err  error
		lock sync.Mutex
	}
	killTimer     *time.Timer
	killTimerLock sync.Mutex
	parser        Parser
	logger        Logger
	limits        Limiter
	callbacks     struct {
		onStart       func()
		onExit        func()
		onStateChange func(from, to string)
		lock          sync.Mutex
	}
}

// New creates a new process
func New(config Config) (Process, error) {
	p := &process{
		binary: config.Binary,
		args:   config.Args,
		parser: config.Parser,
		logger: config.Logger,
		limits: NewSysLimiter(),
	}

	if len(p.binary) == 0 {
		return nil, fmt.Errorf("no valid binary given")
	}

	if p.parser == nil {
		p.parser = NewLineBuffer(config.LogLines)
	}

	if p.logger == nil {
		p.logger = &nopLogger{}
	}

	p.order.order = "stop"
	p.initState(stateFinished)
	p.timeout.duration = config.Timeout
	p.exit.done = make(chan struct{})
	p.callbacks.onStart = config.OnStart
	p.callbacks.onExit = config.OnExit
	p.callbacks.onStateChange = config.OnStateChange

	return p, nil
}

func (p *process) initState(state stateType) {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	p.state.state = state
	p.state.time = time.Now()
}

func (p *process) setState(state stateType) error {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()

	prevState := p.state.state
	failed := false

	switch p.state.state {
	case stateFinished:
		if state == stateStarting {
			p.state.state = state
		} else {
			failed = true
		}
	case stateStarting:
		switch state {
		case stateFinishing, stateRunning, stateFailed:
			p.state.state = state
		default:
			failed = true
		}
	case stateRunning:
		switch state {
		case stateFinished, stateFinishing, stateFailed, stateKilled:
			p.state.state = state
		default:
			failed = true
		}
	case stateFinishing:
		switch state {
		case stateFinished, stateFailed, stateKilled:
			p.state.state = state
		default:
			failed = true
		}
	case stateFailed, stateKilled:
		if state == stateStarting {
			p.state.state = state
		} else {
			failed = true
		}
	default:
		return fmt.Errorf("unhandled state: %s", p.state.state)
	}

	if failed {
		return fmt.Errorf("can't change from %s to %s", p.state.state, state)
	}

	p.state.time = time.Now()
	if p.callbacks.onStateChange != nil {
		go p.callbacks.onStateChange(prevState.String(), p.state.state.String())
	}
	return nil
}

func (p *process) getState() stateType {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	return p.state.state
}

func (p *process) isRunning() bool {
	return p.getState().IsRunning()
}

func (p *process) Status() Status {
	cpu, memory := p.limits.Current()

	p.state.lock.Lock()
	stateTime := p.state.time
	stateString := p.state.state.String()
	p.state.lock.Unlock()

	p.order.lock.Lock()
	order := p.order.order
	p.order.lock.Unlock()

	return Status{
		State:    stateString,
		Order:    order,
		Duration: time.Since(stateTime),
		Time:     stateTime,
		CPU:      cpu,
		Memory:   memory,
	}
}

func (p *process) IsRunning() bool {
	return p.isRunning()
}

func (p *process) Log() []Line {
	return p.parser.Log()
}

func (p *process) Start() error {
	p.order.lock.Lock()
	defer p.order.lock.Unlock()

	if p.order.order == "start" {
		return nil
	}
	p.order.order = "start"
	return p.start()
}

func (p *process) start() error {
	if p.isRunning() {
		return nil
	}

	p.setState(stateStarting)

	var err error
	p.cmd = exec.Command(p.binary, p.args...)

	// Own process group, so stop can take down tool workers that inherited
	// the stderr pipe. Killing only the direct child would leave a forked
	// descendant holding the pipe and block the reader until it exits.
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p.stdout, err = p.cmd.StderrPipe()
	if err != nil {
		p.setState(stateFailed)
		p.parser.Parse(err.Error())
		p.finish(err)
		return err
	}

	if err := p.cmd.Start(); err != nil {
		p.setState(stateFailed)
		p.parser.Parse(err.Error())
		p.finish(err)
		return err
	}

	p.pid = int32(p.cmd.Process.Pid)
	p.limits.Start(int(p.pid))

	p.setState(stateRunning)

	if p.callbacks.onStart != nil {
		go p.callbacks.onStart()
	}

	go p.reader()

	if p.timeout.duration != 0 {
		p.timeout.lock.Lock()
		p.timeout.timer = time.AfterFunc(p.timeout.duration, func() {
			p.timeout.lock.Lock()
			p.timeout.fired = true
			p.timeout.lock.Unlock()
			p.logger.Error("timeout after %s, killing pid %d", p.timeout.duration, p.pid)
			p.Stop(false)
		})
		p.timeout.lock.Unlock()
	}

	return nil
}

// Wait blocks until the process has exited and the final state is set.
func (p *process) Wait() error {
	<-p.exit.done

	p.exit.lock.Lock()
	defer p.exit.lock.Unlock()
	return p.exit.err
}

func (p *process) Stop(wait bool) error {
	p.order.lock.Lock()
	defer p.order.lock.Unlock()

	if p.order.order == "stop" {
		return nil
	}
	p.order.order = "stop"
	return p.stop(wait)
}

func (p *process) stop(wait bool) error {
	if !p.isRunning() {
		return nil
	}
	if p.getState() == stateFinishing {
		return nil
	}

	p.setState(stateFinishing)

	// SIGTERM the whole group; background workers spawned by a shell
	// wrapper ignore SIGINT but not SIGTERM
	pgid := int(p.pid)
	err := syscall.Kill(-pgid, syscall.SIGTERM)
	if err != nil {
		err = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		p.killTimerLock.Lock()
		p.killTimer = time.AfterFunc(5*time.Second, func() {
			syscall.Kill(-pgid, syscall.SIGKILL)
		})
		p.killTimerLock.Unlock()
	}

	if err == nil && wait {
		<-p.exit.done
	}

	if err != nil {
		p.parser.Parse(err.Error())
		p.setState(stateFailed)
	}
	return err
}

func (p *process) reader() {
	scanner := bufio.NewScanner(p.stdout)
	scanner.Split(scanLine)

	p.parser.ResetLog()

	for scanner.Scan() {
		p.parser.Parse(scanner.Text())
	}

	p.waiter()
}

func (p *process) waiter() {
	var exitErr error

	if err := p.cmd.Wait(); err != nil {
		if exiterr, ok := err.(*exec.ExitError); ok {
			status := exiterr.Sys().(syscall.WaitStatus)
			if status.Exited() {
				p.setState(stateFailed)
				exitErr = fmt.Errorf("exit status %d", status.ExitStatus())
			} else {
				p.setState(stateKilled)
				exitErr = fmt.Errorf("terminated by signal")
			}
		} else {
			p.setState(stateKilled)
			exitErr = err
		}
	} else {
		p.setState(stateFinished)
	}

	p.timeout.lock.Lock()
	if p.timeout.timer != nil {
		p.timeout.timer.Stop()
		p.timeout.timer = nil
	}
	if p.timeout.fired {
		exitErr = &TimeoutError{Timeout: p.timeout.duration}
	}
	p.timeout.lock.Unlock()

	p.limits.Stop()

	p.killTimerLock.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
		p.killTimer = nil
	}
	p.killTimerLock.Unlock()

	p.callbacks.lock.Lock()
	if p.callbacks.onExit != nil {
		go p.callbacks.onExit()
	}
	p.callbacks.lock.Unlock()

	p.finish(exitErr)
}

func (p *process) finish(err error) {
	p.exit.lock.Lock()
	defer p.exit.lock.Unlock()

	select {
	case <-p.exit.done:
		return
	default:
	}

	p.exit.err = err
	close(p.exit.done)
}

func scanLine(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) {
		r, w := utf8.DecodeRune(data[start:])
		if r != '\n' && r != '\r' {
			break
		}
		start += w
	}

	for i := start; i < len(data); {
		r, w := utf8.DecodeRune(data[i:])
		if r == '\n' || r == '\r' {
			return i + w, data[start:i], nil
		}
		i += w
	}

	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

type nopLogger struct{}

func (l *nopLogger) Info(format string, args ...interface{})  {}
func (l *nopLogger) Error(format string, args ...interface{}) {}
func (l *nopLogger) Debug(format string, args ...interface{}) {}
