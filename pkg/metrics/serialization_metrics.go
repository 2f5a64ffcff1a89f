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
	serializationSubsystem = "serialization"
	classifierSubsystem    = "classifier"
)

var (
	// ClassifierCacheMisses 统计成员分类缓存未命中的次数，每次未命中对应一次重新计算。
	ClassifierCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: objgraphNamespace,
			Subsystem: classifierSubsystem,
			Name:      "cache_misses_total",
			Help:      "成员分类缓存未命中（重新计算）的次数",
		}, []string{cacheLabelName})

	// ClassifierCacheInvalidations 统计缓存整体失效的次数。
	ClassifierCacheInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: objgraphNamespace,
			Subsystem: classifierSubsystem,
			Name:      "cache_invalidations_total",
			Help:      "成员分类缓存被清空的次数",
		})

	SerializationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: objgraphNamespace,
			Subsystem: serializationSubsystem,
			Name:      "total",
			Help:      "序列化与反序列化调用次数",
		}, []string{formatLabelName, modeLabelName, statusLabelName})

	SerializationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: objgraphNamespace,
			Subsystem: serializationSubsystem,
			Name:      "latency",
			Help:      "单次序列化或反序列化的耗时，单位毫秒",
			Buckets:   buckets,
		}, []string{formatLabelName, modeLabelName})

	// MemberFailures 统计被跳过的成员数量（取值或赋值失败）。
	MemberFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: objgraphNamespace,
			Subsystem: serializationSubsystem,
			Name:      "member_failures_total",
			Help:      "因访问失败被跳过的成员数量",
		}, []string{modeLabelName})

	WarmupTypes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: objgraphNamespace,
			Subsystem: serializationSubsystem,
			Name:      "warmup_types_total",
			Help:      "预热过的模型类型数量",
		})
)

// RegisterSerializationMetrics 将序列化相关的指标注册到 r 中。
func RegisterSerializationMetrics(r prometheus.Registerer) {
	r.MustRegister(ClassifierCacheMisses)
	r.MustRegister(ClassifierCacheInvalidations)
	r.MustRegister(SerializationTotal)
	r.MustRegister(SerializationLatency)
	r.MustRegister(MemberFailures)
	r.MustRegister(WarmupTypes)
}
