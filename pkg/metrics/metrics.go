/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics declares the forwarder's prometheus instrumentation,
// one counter/gauge/histogram family per concern (read, ack, e2e
// latency), labeled so the same family serves both a monovertex
// deployment (pipeline="", vertex=<vertex>) and a pipeline deployment
// (pipeline=<pipeline>, vertex=<vertex>) without branching at the
// call site.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "numaflow"

// LabelNames is the fixed label schema every family below shares.
var LabelNames = []string{"pipeline", "vertex", "replica"}

var (
	ReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "read_total",
			Help:      "Total number of read batches issued to the source.",
		},
		LabelNames,
	)

	ReadBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "read_bytes_total",
			Help:      "Total number of bytes read from the source.",
		},
		LabelNames,
	)

	DataReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "data_read_total",
			Help:      "Total number of data messages read from the source.",
		},
		LabelNames,
	)

	ReadBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "read_batch_size",
			Help:      "Distribution of the number of messages returned per read call.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		LabelNames,
	)

	ReadTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "read_time_seconds",
			Help:      "Time taken to read a batch from the source.",
			Buckets:   prometheus.DefBuckets,
		},
		LabelNames,
	)

	ReadProcessingTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "read_processing_time_seconds",
			Help:      "Time taken to process (transform + write) a read batch.",
			Buckets:   prometheus.DefBuckets,
		},
		LabelNames,
	)

	AckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "ack_total",
			Help:      "Total number of offsets acknowledged back to the source.",
		},
		LabelNames,
	)

	AckTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "ack_time_seconds",
			Help:      "Time taken for a single call to the source's ack.",
			Buckets:   prometheus.DefBuckets,
		},
		LabelNames,
	)

	AckProcessingTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "ack_processing_time_seconds",
			Help:      "Time from read to ack completion for a batch.",
			Buckets:   prometheus.DefBuckets,
		},
		LabelNames,
	)

	E2ETime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source_forwarder",
			Name:      "e2e_time_seconds",
			Help:      "End-to-end time from read to ack completion for a batch.",
			Buckets:   prometheus.DefBuckets,
		},
		LabelNames,
	)
)

func init() {
	prometheus.MustRegister(
		ReadTotal,
		ReadBytesTotal,
		DataReadTotal,
		ReadBatchSize,
		ReadTime,
		ReadProcessingTime,
		AckTotal,
		AckTime,
		AckProcessingTime,
		E2ETime,
	)
}

// Labels builds the LabelNames-ordered label set for one vertex replica.
// Pipeline is empty for a monovertex deployment.
func Labels(pipeline, vertex string, replica int) prometheus.Labels {
	return prometheus.Labels{
		"pipeline": pipeline,
		"vertex":   vertex,
		"replica":  strconv.Itoa(replica),
	}
}
