//
// Copyright 2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package metrics holds the Prometheus metrics exposed by cmd/agent.
// Every method handles a nil receiver gracefully, so a nil *Metrics
// disables collection with zero overhead for callers that never
// started the admin listener.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks counters and histograms for the interception and
// injection paths.
type Metrics struct {
	// TransactionsInterceptedTotal counts buffer-walk hits by outcome.
	// Labels: outcome=[backdoor, registered, passthrough]
	TransactionsInterceptedTotal *prometheus.CounterVec

	// HookInstallsTotal counts internal/symhook RegisterHook/Commit
	// attempts by result. Labels: result=[staged, committed, failed]
	HookInstallsTotal *prometheus.CounterVec

	// InjectionAttemptsTotal counts internal/injector.Inject calls by
	// result. Labels: result=[success, failed]
	InjectionAttemptsTotal *prometheus.CounterVec

	// InjectionDuration tracks end-to-end Inject latency.
	InjectionDuration prometheus.Histogram
}

// New creates and registers a fresh set of metrics against registerer.
// If registerer is nil, prometheus.DefaultRegisterer is used. Callers
// that need a single process-wide instance are expected to call New
// once at startup and pass the result around, the way cmd/agent does.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TransactionsInterceptedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sysbox_ipc_interceptor_transactions_intercepted_total",
				Help: "Binder transactions observed by the ioctl redirector, by outcome",
			},
			[]string{"outcome"},
		),
		HookInstallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sysbox_ipc_interceptor_hook_installs_total",
				Help: "PLT/GOT hook install attempts, by result",
			},
			[]string{"result"},
		),
		InjectionAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sysbox_ipc_interceptor_injection_attempts_total",
				Help: "Remote injection attempts, by result",
			},
			[]string{"result"},
		),
		InjectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sysbox_ipc_interceptor_injection_duration_seconds",
				Help:    "Time to complete a remote injection",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registerer.MustRegister(
		m.TransactionsInterceptedTotal,
		m.HookInstallsTotal,
		m.InjectionAttemptsTotal,
		m.InjectionDuration,
	)
	return m
}

// ObserveTransaction records one outcome of the ioctl buffer walk:
// "backdoor", "registered", or "passthrough".
func (m *Metrics) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.TransactionsInterceptedTotal.WithLabelValues(outcome).Inc()
}

// ObserveHookInstall records a symhook stage/commit result: "staged",
// "committed", or "failed".
func (m *Metrics) ObserveHookInstall(result string) {
	if m == nil {
		return
	}
	m.HookInstallsTotal.WithLabelValues(result).Inc()
}

// ObserveInjection records an injector.Inject call's result and
// duration.
func (m *Metrics) ObserveInjection(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.InjectionDuration.Observe(duration.Seconds())
	if success {
		m.InjectionAttemptsTotal.WithLabelValues("success").Inc()
	} else {
		m.InjectionAttemptsTotal.WithLabelValues("failed").Inc()
	}
}
