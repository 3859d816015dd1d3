/*
spammer-block - Postfix socketmap responder and spam reporting tools.
Copyright © 2024 spammer-block contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package socketmap

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spammer_block",
			Subsystem: "socketmap",
			Name:      "requests_total",
			Help:      "Socketmap requests answered, by map and verdict",
		},
		[]string{"map", "verdict"},
	)
	lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spammer_block",
			Subsystem: "socketmap",
			Name:      "lookup_duration_seconds",
			Help:      "Time spent computing a single verdict",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"map"},
	)
	protocolErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spammer_block",
			Subsystem: "socketmap",
			Name:      "protocol_errors_total",
			Help:      "Connections terminated due to malformed netstrings or requests",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spammer_block",
			Subsystem: "socketmap",
			Name:      "active_connections",
			Help:      "Currently open socketmap connections",
		},
	)
	forcedCancels = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spammer_block",
			Subsystem: "socketmap",
			Name:      "forced_cancellations_total",
			Help:      "Connections forcibly closed after the shutdown timeout",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, lookupDuration, protocolErrors, activeConnections, forcedCancels)
}
