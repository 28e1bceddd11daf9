package updog

import (
	"context"
	"os"
	"strconv"

	systemd "github.com/coreos/go-systemd/v22/dbus"
	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// rebootHost asks systemd to start reboot.target and waits for the job to
// be queued.
func rebootHost(ctx context.Context) error {
	conn, err := connectSystemd()
	if err != nil {
		return err
	}
	defer conn.Close()

	result := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, rebootUnit, "replace-irreversibly", result); err != nil {
		return errors.Wrapf(err, "unable to start %s", rebootUnit)
	}
	select {
	case r := <-result:
		if r != "done" {
			return errors.Errorf("%s job finished with %q", rebootUnit, r)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func connectSystemd() (*systemd.Conn, error) {
	dialer := func() (*dbus.Conn, error) {
		conn, err := dbus.Dial("unix:path=" + systemdSocket)
		if err != nil {
			return nil, errors.Wrap(err, "unable to connect to systemd socket")
		}
		// Authenticate with the user's authority.
		methods := []dbus.Auth{dbus.AuthExternal(strconv.Itoa(os.Getuid()))}
		if err := conn.Auth(methods); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "unable to authenticate with systemd")
		}
		return conn, nil
	}
	return systemd.NewConnection(dialer)
}
