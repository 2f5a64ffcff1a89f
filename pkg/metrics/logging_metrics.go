// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	loggingMetricSubsystem = "logging"
)

// 以下指标只由异步日志 Core 更新。
var (
	LoggingPendingWriteLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: objgraphNamespace,
		Subsystem: loggingMetricSubsystem,
		Name:      "pending_write_length",
		Help:      "当前日志队列中待写入日志的数量",
	})

	LoggingPendingWriteBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: objgraphNamespace,
		Subsystem: loggingMetricSubsystem,
		Name:      "pending_write_bytes",
		Help:      "当前日志队列中待写入日志的总字节数",
	})

	LoggingTruncatedWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: objgraphNamespace,
		Subsystem: loggingMetricSubsystem,
		Name:      "truncated_writes_total",
		Help:      "单条日志超过最大字节数而被截断的次数",
	})

	LoggingTruncatedWriteBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: objgraphNamespace,
		Subsystem: loggingMetricSubsystem,
		Name:      "truncated_write_bytes_total",
		Help:      "因单条日志超过最大字节数而被截断的总字节数",
	})

	LoggingDroppedWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: objgraphNamespace,
		Subsystem: loggingMetricSubsystem,
		Name:      "dropped_writes_total",
		Help:      "由于队列已满且等待超时而被丢弃的日志条数",
	})

	LoggingIOFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: objgraphNamespace,
		Subsystem: loggingMetricSubsystem,
		Name:      "io_failures_total",
		Help:      "底层写入失败的次数",
	})
)

// RegisterLoggingMetrics 将日志相关的指标注册到 r 中。
func RegisterLoggingMetrics(r prometheus.Registerer) {
	r.MustRegister(LoggingPendingWriteLength)
	r.MustRegister(LoggingPendingWriteBytes)
	r.MustRegister(LoggingTruncatedWrites)
	r.MustRegister(LoggingTruncatedWriteBytes)
	r.MustRegister(LoggingDroppedWrites)
	r.MustRegister(LoggingIOFailure)
}
