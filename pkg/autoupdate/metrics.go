// Copyright 2025 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package autoupdate

import "github.com/prometheus/client_golang/prometheus"

const (
	resultUpdated     = "updated"
	resultNotModified = "not_modified"
	resultError       = "error"
)

type metrics struct {
	refreshes  *prometheus.CounterVec
	logs       prometheus.Gauge
	lastUpdate prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctverify_log_list_refresh_total",
				Help: "Log list refresh attempts by result.",
			},
			[]string{"result"}),
		logs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctverify_log_list_logs",
				Help: "Number of logs the current verifier accepts SCTs from.",
			}),
		lastUpdate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctverify_log_list_last_update_timestamp_seconds",
				Help: "Time the log list was last confirmed current.",
			}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.refreshes, m.logs, m.lastUpdate} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
