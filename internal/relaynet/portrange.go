package relaynet

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// PortRange is a host plus an inclusive port span, parsed from a single
// port ("host:29900") or a range ("host:29900-29999"). cmd/relayd parses
// a kcp:// frontend's listen address with it and binds only MinPort;
// backend addresses are dialed as given and are not parsed as ranges.
type PortRange struct {
	Host    string
	MinPort uint64
	MaxPort uint64
}

var portRangePattern = regexp.MustCompile(`(.*):([0-9]{1,5})-?([0-9]{1,5})?`)

// ParsePortRange parses addr into its host and inclusive port span.
func ParsePortRange(addr string) (*PortRange, error) {
	matches := portRangePattern.FindStringSubmatch(addr)
	if len(matches) < 4 {
		return nil, errors.Errorf("relaynet: malformed address %q", addr)
	}

	minPort, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, err
	}
	maxPort := minPort
	if matches[3] != "" {
		maxPort, err = strconv.Atoi(matches[3])
		if err != nil {
			return nil, err
		}
	}

	if minPort > maxPort || minPort > 65535 || maxPort > 65535 || minPort == 0 || maxPort == 0 {
		return nil, errors.Errorf("relaynet: invalid port range specified: minport:%v -> maxport %v", minPort, maxPort)
	}

	return &PortRange{Host: matches[1], MinPort: uint64(minPort), MaxPort: uint64(maxPort)}, nil
}
