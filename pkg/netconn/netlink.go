package netconn

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

const module = "netlink"

// Result codes reported by NetlinkManager.
const (
	CodeInit = iota + 1
	CodePHY
	CodeLinkLookup
	CodeLinkDown
	CodeAddrList
	CodeNoAddress
)

// NetlinkManager is the Linux connection manager. The kernel and its DHCP
// client own the lease; Connect observes the link and reports the address
// once one is assigned.
type NetlinkManager struct {
	log    logging.Logger
	handle *netlink.Handle
}

var _ platform.ConnectionManager = (*NetlinkManager)(nil)

func NewNetlinkManager(log logging.Logger) *NetlinkManager {
	return &NetlinkManager{log: log}
}

type netlinkInterface struct {
	name string
}

func (i *netlinkInterface) Name() string { return i.name }

// Init opens the netlink handle.
func (m *NetlinkManager) Init() error {
	h, err := netlink.NewHandle()
	if err != nil {
		return platform.Result(module, CodeInit, errors.Wrap(err, "unable to open netlink handle"))
	}
	m.handle = h
	return nil
}

// InterfaceInit readies the interface's PHY and returns its handle.
func (m *NetlinkManager) InterfaceInit(id platform.InterfaceID, phy platform.PHY) (platform.Interface, error) {
	if m.handle == nil {
		return nil, platform.Result(module, CodeInit, errors.New("connection manager not initialized"))
	}
	name := string(id)
	steps := []struct {
		what string
		fn   func() error
	}{
		{"init", func() error { return phy.Init(name) }},
		{"reset", phy.Reset},
		{"discover", phy.Discover},
		{"configure", phy.Configure},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, platform.Result(module, CodePHY, errors.Wrapf(err, "phy %s", step.what))
		}
	}
	if speed, err := phy.LinkSpeed(); err == nil {
		m.log.WithField("interface", name).Debugf("link speed %d Mbit/s", speed)
	}
	return &netlinkInterface{name: name}, nil
}

// Connect reports the interface's leased address, failing when the link is
// down or no address is assigned yet.
func (m *NetlinkManager) Connect(_ context.Context, iface platform.Interface) (netip.Addr, error) {
	link, err := m.handle.LinkByName(iface.Name())
	if err != nil {
		return netip.Addr{}, platform.Result(module, CodeLinkLookup, err)
	}
	if !linkUp(link.Attrs()) {
		return netip.Addr{}, platform.Result(module, CodeLinkDown,
			errors.Errorf("link %s is %s", iface.Name(), link.Attrs().OperState))
	}
	addrs, err := m.handle.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return netip.Addr{}, platform.Result(module, CodeAddrList, err)
	}
	addr, ok := pickAddress(addrs)
	if !ok {
		return netip.Addr{}, platform.Result(module, CodeNoAddress,
			errors.Errorf("no address assigned to %s", iface.Name()))
	}
	return addr, nil
}

func linkUp(attrs *netlink.LinkAttrs) bool {
	if attrs.Flags&net.FlagUp == 0 {
		return false
	}
	switch attrs.OperState {
	case netlink.OperUp, netlink.OperUnknown:
		return true
	}
	return false
}

// pickAddress prefers the first global unicast IPv4 address over IPv6.
func pickAddress(addrs []netlink.Addr) (netip.Addr, bool) {
	var v6 netip.Addr
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IPNet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if !ip.IsGlobalUnicast() {
			continue
		}
		if ip.Is4() {
			return ip, true
		}
		if !v6.IsValid() {
			v6 = ip
		}
	}
	return v6, v6.IsValid()
}

// NetlinkPHY is the PHY capability set for a Linux interface. The kernel
// driver owns the PHY registers, so register level operations are
// unsupported.
type NetlinkPHY struct {
	sysfs string
	name  string
}

var _ platform.PHY = (*NetlinkPHY)(nil)

func NewNetlinkPHY() *NetlinkPHY {
	return &NetlinkPHY{sysfs: "/sys/class/net"}
}

func (p *NetlinkPHY) link() (netlink.Link, error) {
	if p.name == "" {
		return nil, errors.New("phy not initialized")
	}
	return netlink.LinkByName(p.name)
}

// Init binds the PHY to the named interface.
func (p *NetlinkPHY) Init(iface string) error {
	p.name = iface
	_, err := p.link()
	return errors.Wrapf(err, "unable to find interface %s", iface)
}

// Configure sets the link administratively up.
func (p *NetlinkPHY) Configure() error {
	l, err := p.link()
	if err != nil {
		return err
	}
	return errors.Wrap(netlink.LinkSetUp(l), "unable to set link up")
}

// Reset cycles a link that is administratively up without carrier.
func (p *NetlinkPHY) Reset() error {
	l, err := p.link()
	if err != nil {
		return err
	}
	attrs := l.Attrs()
	if attrs.Flags&net.FlagUp == 0 || linkUp(attrs) {
		return nil
	}
	if err := netlink.LinkSetDown(l); err != nil {
		return errors.Wrap(err, "unable to set link down")
	}
	return errors.Wrap(netlink.LinkSetUp(l), "unable to set link up")
}

// Discover checks that the interface is an ethernet device.
func (p *NetlinkPHY) Discover() error {
	l, err := p.link()
	if err != nil {
		return err
	}
	if encap := l.Attrs().EncapType; encap != "" && encap != "ether" {
		return errors.Errorf("interface %s is %s, not ethernet", p.name, encap)
	}
	return nil
}

func (p *NetlinkPHY) LinkStatus() (bool, error) {
	l, err := p.link()
	if err != nil {
		return false, err
	}
	return linkUp(l.Attrs()), nil
}

// LinkSpeed reads the negotiated speed the driver exposes in sysfs.
func (p *NetlinkPHY) LinkSpeed() (platform.LinkSpeed, error) {
	raw, err := os.ReadFile(filepath.Join(p.sysfs, p.name, "speed"))
	if err != nil {
		return 0, errors.Wrap(err, "unable to read link speed")
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrap(err, "unable to parse link speed")
	}
	if speed < 0 {
		return 0, errors.New("link speed unknown")
	}
	return platform.LinkSpeed(speed), nil
}

func (p *NetlinkPHY) AutoNegStatus() (bool, error) {
	return false, platform.ErrUnsupported
}

func (p *NetlinkPHY) PartnerCapabilities() (uint32, error) {
	return 0, platform.ErrUnsupported
}

func (p *NetlinkPHY) EnableExtendedRegisters() error {
	return platform.ErrUnsupported
}
