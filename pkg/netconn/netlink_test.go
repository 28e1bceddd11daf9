package netconn

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/platform"
	"github.com/vishvananda/netlink"
	"gotest.tools/assert"
)

func mustAddr(t *testing.T, s string) netlink.Addr {
	a, err := netlink.ParseAddr(s)
	assert.NilError(t, err)
	return *a
}

func TestPickAddress(t *testing.T) {
	cases := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"v4 preferred", []string{"fe80::1/64", "2001:db8::5/64", "192.168.1.50/24"}, "192.168.1.50"},
		{"global v6", []string{"fe80::1/64", "2001:db8::5/64"}, "2001:db8::5"},
		{"skip loopback and link local", []string{"127.0.0.1/8", "169.254.3.4/16", "10.0.0.7/8"}, "10.0.0.7"},
		{"none", []string{"fe80::1/64", "127.0.0.1/8"}, ""},
		{"empty", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var addrs []netlink.Addr
			for _, a := range tc.addrs {
				addrs = append(addrs, mustAddr(t, a))
			}
			got, ok := pickAddress(addrs)
			if tc.want == "" {
				assert.Assert(t, !ok)
				return
			}
			assert.Assert(t, ok)
			assert.Equal(t, got.String(), tc.want)
		})
	}
}

func TestLinkUp(t *testing.T) {
	assert.Assert(t, linkUp(&netlink.LinkAttrs{Flags: net.FlagUp, OperState: netlink.OperUp}))
	assert.Assert(t, linkUp(&netlink.LinkAttrs{Flags: net.FlagUp, OperState: netlink.OperUnknown}))
	assert.Assert(t, !linkUp(&netlink.LinkAttrs{Flags: net.FlagUp, OperState: netlink.OperDown}))
	assert.Assert(t, !linkUp(&netlink.LinkAttrs{Flags: net.FlagUp, OperState: netlink.OperLowerLayerDown}))
	assert.Assert(t, !linkUp(&netlink.LinkAttrs{OperState: netlink.OperUp}))
}

func TestPHYLinkSpeed(t *testing.T) {
	sysfs := t.TempDir()
	assert.NilError(t, os.MkdirAll(filepath.Join(sysfs, "eth1"), 0o755))
	p := &NetlinkPHY{sysfs: sysfs, name: "eth1"}

	assert.NilError(t, os.WriteFile(filepath.Join(sysfs, "eth1", "speed"), []byte("1000\n"), 0o644))
	speed, err := p.LinkSpeed()
	assert.NilError(t, err)
	assert.Equal(t, speed, platform.LinkSpeed(1000))

	assert.NilError(t, os.WriteFile(filepath.Join(sysfs, "eth1", "speed"), []byte("-1\n"), 0o644))
	_, err = p.LinkSpeed()
	assert.ErrorContains(t, err, "unknown")
}

func TestPHYRegisterOperationsUnsupported(t *testing.T) {
	p := NewNetlinkPHY()
	_, err := p.AutoNegStatus()
	assert.Equal(t, err, platform.ErrUnsupported)
	_, err = p.PartnerCapabilities()
	assert.Equal(t, err, platform.ErrUnsupported)
	assert.Equal(t, p.EnableExtendedRegisters(), platform.ErrUnsupported)
}

func TestInterfaceInitRequiresInit(t *testing.T) {
	m := NewNetlinkManager(nil)
	_, err := m.InterfaceInit("eth1", NewNetlinkPHY())
	assert.Equal(t, platform.Code(err), CodeInit)
}
