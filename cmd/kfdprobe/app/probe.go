/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */
package app

import (
	"encoding/json"
	"flag"
	"net/http"

	"golang.org/x/sys/unix"

	"github.com/Helios-Labs/kfdhost/cmd/kfdprobe/prometheus"
	"github.com/Helios-Labs/kfdhost/pkg/device"
	"github.com/Helios-Labs/kfdhost/pkg/kfd"
	"github.com/Helios-Labs/kfdhost/pkg/logger"
	"github.com/Helios-Labs/kfdhost/pkg/server"
	"github.com/Helios-Labs/kfdhost/pkg/task"
)

var (
	nodeIndex   = flag.Int("node", 0, "Accelerator node to exercise")
	buildQueues = flag.Bool("build-queues", false, "Build and tear down submission queues on the selected node")
	address     = flag.String("address", "", "Address to serve the node inventory and metrics on; empty runs one-shot")
)

// Run probes the driver: enumerate the accelerator nodes, optionally build
// queues on one of them, and either exit or stay up serving the inventory.
func Run(group task.Group) error {
	drv := device.Default()
	defer drv.Close()

	major, minor, err := drv.Version()
	if err != nil {
		return err
	}

	logger.Infof("driver interface v%d.%d", major, minor)

	nodes, err := drv.Nodes()
	if err != nil {
		return err
	}

	for _, node := range nodes {
		logger.Infof("node %d: gpu 0x%X target %s simds %d render %d",
			node.Index, node.GPUID, node.Target,
			node.Properties["simd_count"], node.Properties["drm_render_minor"])
	}

	if *buildQueues {
		if err := exerciseQueues(drv, *nodeIndex); err != nil {
			return err
		}
	}

	if *address == "" {
		group.Cancel()
		return nil
	}

	srv, err := server.NewServer(*address, nil)
	if err != nil {
		return err
	}

	srv.AddEndpointFunc("GET", "/v1/nodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(nodes); err != nil {
			logger.Errorf("encoding node inventory: %v", err)
		}
	})
	prometheus.AddMetricsEndpoint(srv)

	return srv.Run(group)
}

// exerciseQueues runs the full submission path once on the given node:
// device handle, memory, both queue kinds, one indirect-buffer packet.
func exerciseQueues(drv *device.Driver, index int) error {
	dev, err := drv.OpenDevice(index)
	if err != nil {
		return err
	}
	defer dev.Close()

	available, err := dev.AvailableMemory()
	if err != nil {
		return err
	}
	logger.Infof("gpu 0x%X available memory %d", dev.GPUID(), available)

	ib, err := dev.AllocMemory(0x1000,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
		kfd.AllocMemFlagsGTT|kfd.AllocMemFlagsWritable|kfd.AllocMemFlagsExecutable|
			kfd.AllocMemFlagsNoSubstitute|kfd.AllocMemFlagsCoherent|kfd.AllocMemFlagsUncached,
		true)
	if err != nil {
		return err
	}
	defer dev.FreeMemory(ib)

	signal, err := dev.CreateEvent(false, nil)
	if err != nil {
		return err
	}

	compute, err := dev.CreateAQLQueue(device.QueueConfig{})
	if err != nil {
		return err
	}
	logger.Infof("compute queue %d doorbell +0x%X", compute.ID, compute.DoorbellOffset)

	sdma, err := dev.CreateSDMAQueue(device.QueueConfig{})
	if err != nil {
		return err
	}
	logger.Infof("sdma queue %d doorbell +0x%X", sdma.ID, sdma.DoorbellOffset)

	packet := device.PM4IndirectBuffer(uint64(ib.Addr), 0x1000/4, uint64(signal.ID))
	if err := compute.Submit(packet); err != nil {
		return err
	}

	return nil
}
