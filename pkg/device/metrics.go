/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package device

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	driverCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kfdhost",
		Name:      "driver_calls_total",
		Help:      "Driver commands issued, by command name and outcome.",
	}, []string{"command", "outcome"})

	allocatedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kfdhost",
		Name:      "allocated_bytes_total",
		Help:      "Bytes of device-visible memory allocated.",
	})

	freedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kfdhost",
		Name:      "freed_bytes_total",
		Help:      "Bytes of device-visible memory released.",
	})

	queuesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kfdhost",
		Name:      "queues_created_total",
		Help:      "Hardware queues created, by queue kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(driverCalls, allocatedBytes, freedBytes, queuesCreated)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
