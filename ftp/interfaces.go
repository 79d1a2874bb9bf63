package ftp

import (
	"errors"
	"net"
	"strconv"
)

// ErrNoInterfaces is returned when no usable IPv4 interface address exists.
var ErrNoInterfaces = errors.New("no active IPv4 interface")

// DiscoverAddrs returns one "ip:port" listen address per IPv4 address of every
// interface that is up and not a loopback.
func DiscoverAddrs(port int) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			out = append(out, net.JoinHostPort(ipnet.IP.String(), strconv.Itoa(port)))
		}
	}
	if len(out) == 0 {
		return nil, ErrNoInterfaces
	}
	return out, nil
}
