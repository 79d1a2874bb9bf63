package datachan

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// LoopbackPlaceholder is the address some clients advertise in PORT when they
// mean "the address you already see me on".
const LoopbackPlaceholder = "127.0.1.1"

// DefaultActivePort is the peer port used for active mode until PORT overrides it.
const DefaultActivePort = 20

// ParseActive decodes a "h1,h2,h3,h4,p1,p2" payload. Payloads with fewer than
// six fields, non-numeric fields or octets out of range are rejected. Extra
// trailing fields are ignored.
func ParseActive(payload string) (host string, port int, err error) {
	items := strings.Split(strings.TrimSpace(payload), ",")
	if len(items) < 6 {
		return "", 0, fmt.Errorf("%w: %d fields", ErrMalformedEndpoint, len(items))
	}

	octets := make([]string, 4)
	for i := 0; i < 4; i++ {
		v, err := parseOctet(items[i])
		if err != nil {
			return "", 0, err
		}
		octets[i] = strconv.Itoa(v)
	}
	hi, err := parseOctet(items[4])
	if err != nil {
		return "", 0, err
	}
	lo, err := parseOctet(items[5])
	if err != nil {
		return "", 0, err
	}

	return strings.Join(octets, "."), hi*256 + lo, nil
}

func parseOctet(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 || v > 255 {
		return 0, fmt.Errorf("%w: bad field %q", ErrMalformedEndpoint, s)
	}
	return v, nil
}

// FormatPassive encodes ip and port as "h1,h2,h3,h4,p1,p2".
func FormatPassive(ip net.IP, port int) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("%w: %v", ErrNotIPv4, ip)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", v4[0], v4[1], v4[2], v4[3], port>>8, port&0xff), nil
}

// HostIP extracts the IP from a net.Addr or "host:port" string.
func HostIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}
