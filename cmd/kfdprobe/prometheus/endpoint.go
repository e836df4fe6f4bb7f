/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Helios-Labs/kfdhost/pkg/server"
)

// AddMetricsEndpoint exposes the default registry on /metrics.
func AddMetricsEndpoint(server *server.Server) {
	server.AddEndpointHandler(http.MethodGet, "/metrics", promhttp.Handler())
}
