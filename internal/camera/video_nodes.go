package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// VideoNode is a /dev/videoN character device
type VideoNode struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Name  string `json:"name"`
}

// sysfsRoot is where the kernel exposes video4linux device names
var sysfsRoot = "/sys/class/video4linux"

// ListVideoNodes lists the video character devices in deviceDir, sorted by
// index. Names come from sysfs when available.
func ListVideoNodes(deviceDir string) ([]VideoNode, error) {
	if deviceDir == "" {
		deviceDir = "/dev"
	}

	matches, err := filepath.Glob(filepath.Join(deviceDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}

	nodes := make([]VideoNode, 0, len(matches))
	for _, match := range matches {
		base := filepath.Base(match)
		index, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
		if err != nil {
			continue
		}

		info, err := os.Stat(match)
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}

		node := VideoNode{Index: index, Path: match, Name: "USB Camera"}
		if name, err := os.ReadFile(filepath.Join(sysfsRoot, base, "name")); err == nil {
			if trimmed := strings.TrimSpace(string(name)); trimmed != "" {
				node.Name = trimmed
			}
		}
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
	return nodes, nil
}
