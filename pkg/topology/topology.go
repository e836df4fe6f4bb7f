/*
 *  Copyright (c) 2024 Helios Labs, Inc. All Rights Reserved.
 */

// Package topology reads the KFD sysfs tree describing accelerator nodes.
package topology

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/Helios-Labs/kfdhost/pkg/errors"
)

const (
	// DefaultRoot is where the driver publishes per-node directories.
	DefaultRoot = "/sys/devices/virtual/kfd/kfd/topology/nodes"
)

var (
	ErrMalformedTopology = errors.New("topology: malformed node description")
)

// Node is one accelerator exposed by the driver, immutable once read.
type Node struct {
	// Index is the node's directory number under the topology root.
	Index int

	// GPUID is the driver's stable identifier for the device. CPU-only
	// nodes report zero and are filtered out by Discover.
	GPUID uint32

	// Properties holds the node's key-value property file verbatim.
	Properties map[string]uint64

	// Target is the architecture tag derived from gfx_target_version,
	// e.g. "gfx1100".
	Target string
}

func (node Node) Property(name string) (uint64, bool) {
	value, found := node.Properties[name]
	return value, found
}

// RenderMinor returns the DRM render-node minor number for the device.
func (node Node) RenderMinor() (uint64, bool) {
	return node.Property("drm_render_minor")
}

// Discover enumerates the topology root and returns the usable nodes: those
// whose gpu_id file exists and holds a nonzero value. Directory enumeration
// order is not guaranteed, so the result is sorted by node index.
func Discover(root string) ([]Node, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, ErrMalformedTopology.Wrap(err)
	}

	var nodes []Node
	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}

		index, err := strconv.Atoi(dirEntry.Name())
		if err != nil {
			continue
		}

		gpuId, err := readValue(filepath.Join(root, dirEntry.Name(), "gpu_id"))
		if err != nil {
			if os.IsNotExist(errors.Unwrap(err)) {
				continue
			}

			return nil, err
		}

		if gpuId == 0 {
			continue
		}

		properties, err := readProperties(filepath.Join(root, dirEntry.Name(), "properties"))
		if err != nil {
			return nil, err
		}

		node := Node{
			Index:      index,
			GPUID:      uint32(gpuId),
			Properties: properties,
		}

		if version, found := node.Property("gfx_target_version"); found {
			node.Target = GfxTarget(version)
		}

		nodes = append(nodes, node)
	}

	slices.SortFunc(nodes, func(a, b Node) int {
		return a.Index - b.Index
	})

	return nodes, nil
}

// GfxTarget derives the architecture tag from gfx_target_version. The
// version packs major*10000 + minor*100 + step; minor and step are rendered
// in hex without padding, so 90008 becomes "gfx908" and 110000 "gfx1100".
func GfxTarget(version uint64) string {
	var builder strings.Builder
	builder.WriteString("gfx")
	builder.WriteString(strconv.FormatUint(version/10000, 10))
	builder.WriteString(strconv.FormatUint((version/100)%100, 16))
	builder.WriteString(strconv.FormatUint(version%100, 16))
	return builder.String()
}

func readValue(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, ErrMalformedTopology.Wrap(err)
	}

	value, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, ErrMalformedTopology.Wrap(err)
	}

	return value, nil
}

// readProperties parses the whitespace-separated key/value lines of a node's
// properties file. Values are unsigned integers.
func readProperties(path string) (map[string]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrMalformedTopology.Wrap(err)
	}

	properties := map[string]uint64{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, ErrMalformedTopology.Wrapf("%s: bad line %q", path, line)
		}

		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, ErrMalformedTopology.Wrapf("%s: bad value in line %q", path, line)
		}

		properties[fields[0]] = value
	}

	return properties, nil
}
