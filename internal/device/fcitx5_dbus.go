package device

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
)

const (
	fcitxDest              = "org.fcitx.Fcitx5"
	fcitxControllerPath    = dbus.ObjectPath("/controller")
	fcitxReloadAddonConfig = "org.fcitx.Fcitx.Controller1.ReloadAddonConfig"
	fcitxRimeAddon         = "rime"
	dbusDefaultFlag        = 0
)

// Reloader asks a running Fcitx5 to reload its Rime addon.
type Reloader func(ctx context.Context) error

// DBusReload calls ReloadAddonConfig("rime") on the session bus.
func DBusReload(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warnf("got an error closing dbus connection, err: %s", err)
		}
	}()

	obj := conn.Object(fcitxDest, fcitxControllerPath)
	if err := obj.CallWithContext(ctx, fcitxReloadAddonConfig, dbusDefaultFlag, fcitxRimeAddon).Store(); err != nil {
		return fmt.Errorf("call %s: %w", fcitxReloadAddonConfig, err)
	}
	log.Debugf("fcitx5 reloaded the %s addon", fcitxRimeAddon)
	return nil
}
