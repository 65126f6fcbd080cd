package scan

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/anava-ai/anava-connector/internal/vapix"
)

// KindInvalidCIDR tags CIDR parse and semantic failures. Session-fatal: a
// scan request carrying a bad range never starts.
const KindInvalidCIDR = "invalid-cidr"

// ParseCIDR splits "192.168.50.0/24" into base and mask. A trailing extra
// segment after the mask ("192.168.50.0/24/office") is tolerated and
// ignored; some deployment tools append a site label there.
func ParseCIDR(cidr string) (net.IP, int, error) {
	parts := strings.Split(strings.TrimSpace(cidr), "/")
	if len(parts) < 2 {
		return nil, 0, vapix.NewError(KindInvalidCIDR, fmt.Sprintf("%q has no mask", cidr), nil)
	}

	base := net.ParseIP(parts[0])
	if base == nil || base.To4() == nil {
		return nil, 0, vapix.NewError(KindInvalidCIDR, fmt.Sprintf("%q is not an IPv4 address", parts[0]), nil)
	}

	mask, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, 0, vapix.NewError(KindInvalidCIDR, fmt.Sprintf("mask %q is not a number", parts[1]), err)
	}
	if mask < 0 || mask > 32 {
		return nil, 0, vapix.NewError(KindInvalidCIDR, fmt.Sprintf("mask /%d outside 0..32", mask), nil)
	}

	return base.To4(), mask, nil
}

// ExpandCIDR returns every scannable host address in the range, ascending.
// Network and broadcast are skipped, so a /24 yields .1 through .254 and
// masks 31 and 32 yield nothing at all.
func ExpandCIDR(cidr string) ([]string, error) {
	base, mask, err := ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	if mask >= 31 {
		return nil, nil
	}

	bits := ^uint32(0) << (32 - mask)
	network := binary.BigEndian.Uint32(base) & bits
	broadcast := network | ^bits

	ips := make([]string, 0, broadcast-network-1)
	for ip := network + 1; ip < broadcast; ip++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], ip)
		ips = append(ips, net.IP(b[:]).String())
	}
	return ips, nil
}
