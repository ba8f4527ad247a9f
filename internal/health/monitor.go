/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package health periodically probes the bridge's backends and reports
// whether it is running degraded.
package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"go.uber.org/zap"
)

// ProbeFunc reports a backend as healthy by returning nil
type ProbeFunc func(ctx context.Context) error

// HTTPProbe returns a probe that expects 200 OK from url
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// ServiceStatus is the latest probe result for one backend
type ServiceStatus struct {
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// HostInfo describes the machine the bridge runs on
type HostInfo struct {
	CPUCores     int    `json:"cpu_cores"`
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
}

// Status is a snapshot of every probe
type Status struct {
	Services          map[string]ServiceStatus `json:"services"`
	Host              HostInfo                 `json:"host"`
	LastChecked       time.Time                `json:"last_checked"`
	Degraded          bool                     `json:"degraded"`
	DegradationReason string                   `json:"degradation_reason,omitempty"`
}

type probe struct {
	name     string
	check    ProbeFunc
	required bool
}

// Monitor runs the registered probes on an interval
type Monitor struct {
	mutex  sync.RWMutex
	probes []probe
	status Status

	interval time.Duration
	timeout  time.Duration

	onChange func(Status)
}

// NewMonitor creates a monitor. Zero durations fall back to 30s and 5s.
func NewMonitor(interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		status: Status{
			Services: map[string]ServiceStatus{},
			Host: HostInfo{
				CPUCores:     runtime.NumCPU(),
				Architecture: runtime.GOARCH,
				OS:           runtime.GOOS,
			},
		},
	}
}

// Register adds a probe. A failing required probe marks the bridge degraded.
func (m *Monitor) Register(name string, check ProbeFunc, required bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.probes = append(m.probes, probe{name: name, check: check, required: required})
}

// SetChangeCallback is invoked after a check changes the degraded state
func (m *Monitor) SetChangeCallback(callback func(Status)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onChange = callback
}

// Start checks immediately and then on every interval until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs every probe once and returns the new status
func (m *Monitor) Check(ctx context.Context) Status {
	m.mutex.RLock()
	probes := append([]probe(nil), m.probes...)
	m.mutex.RUnlock()

	services := make(map[string]ServiceStatus, len(probes))
	var failed []string

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := p.check(probeCtx)
		cancel()

		status := ServiceStatus{Available: err == nil, Latency: time.Since(start)}
		if err != nil {
			status.Error = err.Error()
			if p.required {
				failed = append(failed, p.name)
			}
		}
		services[p.name] = status
	}

	sort.Strings(failed)

	m.mutex.Lock()
	wasDegraded := m.status.Degraded
	m.status.Services = services
	m.status.LastChecked = time.Now()
	m.status.Degraded = len(failed) > 0
	m.status.DegradationReason = ""
	if len(failed) > 0 {
		m.status.DegradationReason = fmt.Sprintf("%v unavailable", failed)
	}
	snapshot := m.snapshotLocked()
	callback := m.onChange
	m.mutex.Unlock()

	logging.LogDebug("Backend health check completed",
		zap.Bool("degraded", snapshot.Degraded),
		zap.Int("probes", len(probes)),
	)

	if snapshot.Degraded != wasDegraded {
		if snapshot.Degraded {
			logging.LogWarn("Bridge degraded", zap.String("reason", snapshot.DegradationReason))
		} else {
			logging.LogInfo("Bridge recovered")
		}
		if callback != nil {
			callback(snapshot)
		}
	}

	return snapshot
}

// Status returns the latest snapshot
func (m *Monitor) Status() Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.snapshotLocked()
}

// Available reports the last result of the named probe
func (m *Monitor) Available(name string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.status.Services[name].Available
}

func (m *Monitor) snapshotLocked() Status {
	out := m.status
	out.Services = make(map[string]ServiceStatus, len(m.status.Services))
	for k, v := range m.status.Services {
		out.Services[k] = v
	}
	return out
}
