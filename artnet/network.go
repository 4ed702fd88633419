package artnet

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/phuslu/log"
)

var ErrInterfaceUnavailable = errors.New("no usable IPv4 interface")

// Interfaces with an IPv4 address are preferred in this order when none is
// named explicitly.
var preferredInterfacePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^enp.*`),
	regexp.MustCompile(`^wlp.*`),
}

// InterfaceInfo is the network bootstrap result consumed by the client.
type InterfaceInfo struct {
	Name        string
	UnicastIP   net.IP
	BroadcastIP net.IP
	MAC         net.HardwareAddr
}

// resolveInterface picks the interface to run Art-Net on. A named interface
// is looked up directly. Otherwise class-A addresses in 2.0.0.0/8 win (the
// protocol's historical convention), then wired/wireless names, then
// whatever remains.
func resolveInterface(name string) (*InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceUnavailable, err)
	}

	type candidate struct {
		rank int
		info *InterfaceInfo
	}
	var candidates []candidate

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || len(ipnet.Mask) != 4 {
				continue
			}

			broadcast := make(net.IP, 4)
			for i := 0; i < 4; i++ {
				broadcast[i] = ip4[i] | ^ipnet.Mask[i]
			}

			info := &InterfaceInfo{
				Name:        iface.Name,
				UnicastIP:   ip4,
				BroadcastIP: broadcast,
				MAC:         iface.HardwareAddr,
			}
			log.Debug().
				Str("interface", iface.Name).
				Str("ip", ip4.String()).
				Str("broadcast", broadcast.String()).
				Msg("interface candidate")

			if name != "" {
				if iface.Name == name {
					return info, nil
				}
				continue
			}

			rank := 10
			if ipnet.Mask.String() == "ff000000" && strings.HasPrefix(ip4.String(), "2.") {
				rank = -1
			} else {
				for i, pattern := range preferredInterfacePatterns {
					if pattern.MatchString(iface.Name) {
						rank = i
						break
					}
				}
			}
			candidates = append(candidates, candidate{rank: rank, info: info})
			break
		}
	}

	if name != "" {
		return nil, fmt.Errorf("%w: interface %q has no IPv4 address", ErrInterfaceUnavailable, name)
	}
	if len(candidates) == 0 {
		return nil, ErrInterfaceUnavailable
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].rank < candidates[j].rank })
	return candidates[0].info, nil
}
