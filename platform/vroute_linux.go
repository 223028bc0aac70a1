//go:build linux

package platform

import (
	"net"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// LinuxRoutes programs a configuration-mode tunnel's virtual address and
// routes through rtnetlink, closely grounded on
// original_source/iked/vroute-netlink.c: vroute_insertaddr for the address,
// vroute_setcloneroute for host routes kept off the tunnel, and
// vroute_setroute's split-default trick (vroute_doroute's 0/1 + 128/1
// pair) instead of replacing the real default route outright. Every change
// is pushed onto an undo stack so Cleanup reverses it in the opposite
// order it was made, mirroring vroute_cleanup.
type LinuxRoutes struct {
	LinkIndex int

	undo []func() error
}

func NewLinuxRoutes(linkIndex int) *LinuxRoutes {
	return &LinuxRoutes{LinkIndex: linkIndex}
}

func (r *LinuxRoutes) AddAddress(addr net.IP, mask net.IPMask) error {
	addrObj := &netlink.Addr{IPNet: &net.IPNet{IP: addr, Mask: mask}}
	link, err := netlink.LinkByIndex(r.LinkIndex)
	if err != nil {
		return errors.Wrap(err, "link by index")
	}
	if err := netlink.AddrAdd(link, addrObj); err != nil {
		return errors.Wrapf(err, "addr add %s", addrObj)
	}
	r.push(func() error { return netlink.AddrDel(link, addrObj) })
	return nil
}

func (r *LinuxRoutes) DelAddress(addr net.IP, mask net.IPMask) error {
	addrObj := &netlink.Addr{IPNet: &net.IPNet{IP: addr, Mask: mask}}
	link, err := netlink.LinkByIndex(r.LinkIndex)
	if err != nil {
		return errors.Wrap(err, "link by index")
	}
	return netlink.AddrDel(link, addrObj)
}

// AddClonedRoute installs a host route to dst via the given gateway,
// bypassing the tunnel, used to keep the IKE control channel itself
// reachable once a split-default route would otherwise capture it.
func (r *LinuxRoutes) AddClonedRoute(dst *net.IPNet, via net.IP) error {
	route := &netlink.Route{
		LinkIndex: r.LinkIndex,
		Dst:       hostRoute(dst.IP),
		Gw:        via,
	}
	if err := netlink.RouteAdd(route); err != nil {
		return errors.Wrapf(err, "route add (clone, %s via %s)", dst.IP, via)
	}
	r.push(func() error { return netlink.RouteDel(route) })
	return nil
}

// AddSplitDefaultRoutes installs the classic 0.0.0.0/1 + 128.0.0.0/1 pair
// (or their IPv6 equivalents) instead of touching 0.0.0.0/0, so the tunnel
// always wins the longest-prefix match without needing to remove and later
// restore the host's real default route.
func (r *LinuxRoutes) AddSplitDefaultRoutes(via net.IP) error {
	halves := splitDefaultNets(via)
	for _, dst := range halves {
		route := &netlink.Route{LinkIndex: r.LinkIndex, Dst: dst, Gw: via}
		if err := netlink.RouteAdd(route); err != nil {
			return errors.Wrapf(err, "route add (split-default, %s via %s)", dst, via)
		}
		r.push(func() error { return netlink.RouteDel(route) })
	}
	return nil
}

func (r *LinuxRoutes) Cleanup() error {
	var firstErr error
	for i := len(r.undo) - 1; i >= 0; i-- {
		if err := r.undo[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.undo = nil
	return firstErr
}

func (r *LinuxRoutes) push(undo func() error) {
	r.undo = append(r.undo, undo)
}

func hostRoute(ip net.IP) *net.IPNet {
	if ip4 := ip.To4(); ip4 != nil {
		return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

func splitDefaultNets(via net.IP) []*net.IPNet {
	if via.To4() != nil {
		return []*net.IPNet{
			{IP: net.IPv4zero, Mask: net.CIDRMask(1, 32)},
			{IP: net.IPv4(128, 0, 0, 0), Mask: net.CIDRMask(1, 32)},
		}
	}
	upperHalf := net.ParseIP("8000::")
	return []*net.IPNet{
		{IP: net.IPv6zero, Mask: net.CIDRMask(1, 128)},
		{IP: upperHalf, Mask: net.CIDRMask(1, 128)},
	}
}
