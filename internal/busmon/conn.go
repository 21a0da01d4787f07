package busmon

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Connect dials the named bus ("session" or "system"), exports the stats
// object and returns a monitor emitting on that connection. Closing the
// returned connection stops the monitor.
func Connect(bus string, opts Options) (*Monitor, *dbus.Conn, error) {
	var conn *dbus.Conn
	var err error
	switch bus {
	case "", "session":
		conn, err = dbus.ConnectSessionBus()
	case "system":
		conn, err = dbus.ConnectSystemBus()
	default:
		return nil, nil, fmt.Errorf("unknown bus %q", bus)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s bus: %w", bus, err)
	}

	m, err := New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := conn.Export(m.Stats(), m.path, m.iface); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("export stats: %w", err)
	}
	return m, conn, nil
}
