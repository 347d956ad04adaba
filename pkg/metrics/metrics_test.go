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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	require.NotNil(t, m)

	mfs, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	require.True(t, names["sysbox_ipc_interceptor_transactions_intercepted_total"])
	require.True(t, names["sysbox_ipc_interceptor_hook_installs_total"])
	require.True(t, names["sysbox_ipc_interceptor_injection_attempts_total"])
	require.True(t, names["sysbox_ipc_interceptor_injection_duration_seconds"])
}

func TestObserveTransactionIncrementsByOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveTransaction("backdoor")
	m.ObserveTransaction("passthrough")
	m.ObserveTransaction("passthrough")

	require.Equal(t, float64(1), testutil.ToFloat64(m.TransactionsInterceptedTotal.WithLabelValues("backdoor")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.TransactionsInterceptedTotal.WithLabelValues("passthrough")))
}

func TestObserveHookInstall(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveHookInstall("committed")
	require.Equal(t, float64(1), testutil.ToFloat64(m.HookInstallsTotal.WithLabelValues("committed")))
}

func TestObserveInjectionSplitsByResult(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveInjection(5*time.Millisecond, true)
	m.ObserveInjection(10*time.Millisecond, false)

	require.Equal(t, float64(1), testutil.ToFloat64(m.InjectionAttemptsTotal.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.InjectionAttemptsTotal.WithLabelValues("failed")))
}

func TestNilMetricsMethodsAreNoops(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveTransaction("backdoor")
		m.ObserveHookInstall("staged")
		m.ObserveInjection(time.Millisecond, true)
	})
}
