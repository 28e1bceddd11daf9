// Package platform describes the external collaborators the agent drives:
// image storage, the update engine, the connection manager and the PHY
// driver. The agent never looks behind these interfaces.
package platform

import (
	"context"
	"net/netip"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/config"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/lifecycle"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/transport"
)

// Storage is the table of update image operations handed to the engine. The
// agent itself only calls Init and Validate.
type Storage interface {
	// Init prepares the storage subsystem for update images.
	Init() error
	// Open prepares a new update image for writing.
	Open() error
	// Read reads back part of the open image.
	Read(p []byte, off int64) (int, error)
	// Write stores part of the image at the given offset.
	Write(p []byte, off int64) (int, error)
	// Close finishes writing the image.
	Close() error
	// Verify checks the written image before it is made bootable.
	Verify() error
	// Validate marks the running image good so that it is not reverted.
	Validate(appID int) error
	// AppInfo describes the running image.
	AppInfo() (AppInfo, error)
}

// AppInfo identifies the running image.
type AppInfo struct {
	AppID   int
	Version string
}

// Callback receives every event of an update session and directs the
// engine. It is called synchronously from the engine's own goroutine.
type Callback func(*lifecycle.Event) lifecycle.Directive

// NetworkParams tell the engine where and how to fetch updates.
type NetworkParams struct {
	Server      lifecycle.Server
	File        string
	Credentials config.Credentials
	UseJobFlow  bool
	Connection  config.Connection
	// Transport is the initialized secure socket stack bound to the live
	// endpoint.
	Transport *transport.Stack
}

// AgentParams configure the engine's session behavior.
type AgentParams struct {
	Callback            Callback
	RebootOnCompletion  bool
	ValidateAfterReboot bool
	DoNotSendResult     bool
}

// Session is a started engine.
type Session interface {
	// Wait blocks until the engine's session ends.
	Wait() error
	// LastError reports the engine's last recorded error.
	LastError() lifecycle.ErrorCode
}

// Engine is the external update engine.
type Engine interface {
	Start(ctx context.Context, net NetworkParams, agent AgentParams, storage Storage) (Session, error)
}

// InterfaceID names a network interface.
type InterfaceID string

// Interface is an initialized network interface handle.
type Interface interface {
	Name() string
}

// ConnectionManager brings network interfaces up and acquires addresses.
type ConnectionManager interface {
	// Init initializes the connection manager itself.
	Init() error
	// InterfaceInit initializes the named interface with its PHY driver.
	InterfaceInit(id InterfaceID, phy PHY) (Interface, error)
	// Connect attempts once to establish a live connection and returns the
	// assigned address.
	Connect(ctx context.Context, iface Interface) (netip.Addr, error)
}

// LinkSpeed is a negotiated link speed in Mbit/s.
type LinkSpeed int

// PHY is the low level link capability set of an interface.
type PHY interface {
	Init(iface string) error
	Configure() error
	Reset() error
	Discover() error
	LinkStatus() (up bool, err error)
	LinkSpeed() (LinkSpeed, error)
	AutoNegStatus() (complete bool, err error)
	PartnerCapabilities() (uint32, error)
	EnableExtendedRegisters() error
}
