// Package device reports the desktop's color scheme preference through the
// freedesktop settings portal.
package device

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/folio/internal/settings"
)

// Portal coordinates.
const (
	portalDest     = "org.freedesktop.portal.Desktop"
	portalPath     = "/org/freedesktop/portal/desktop"
	settingsIface  = "org.freedesktop.portal.Settings"
	appearanceNS   = "org.freedesktop.appearance"
	colorSchemeKey = "color-scheme"
)

// Info describes the user's device.
type Info struct {
	PrefersColorScheme settings.ColorScheme `json:"prefers_color_scheme" yaml:"prefers_color_scheme"`
}

// Provider supplies device information.
type Provider interface {
	// Info returns the current device information.
	Info(ctx context.Context) (Info, error)

	// OnInfoChange calls fn for every change until ctx is done.
	OnInfoChange(ctx context.Context, fn func(Info)) error
}

// SchemeFromPortal maps the portal's color-scheme value: 0 no preference,
// 1 prefer dark, 2 prefer light.
func SchemeFromPortal(v uint32) settings.ColorScheme {
	switch v {
	case 1:
		return settings.SchemeDark
	case 2:
		return settings.SchemeLight
	}
	return settings.SchemeNone
}

// schemeFromVariant unwraps the (possibly nested) variant returned by the
// portal. Settings.Read wraps the value twice on older portals.
func schemeFromVariant(v dbus.Variant) (settings.ColorScheme, error) {
	val := v.Value()
	for {
		inner, ok := val.(dbus.Variant)
		if !ok {
			break
		}
		val = inner.Value()
	}
	u, ok := val.(uint32)
	if !ok {
		return settings.SchemeNone, fmt.Errorf("unexpected color-scheme type %T", val)
	}
	return SchemeFromPortal(u), nil
}

// infoFromSignal extracts the new color scheme from a SettingChanged signal.
func infoFromSignal(sig *dbus.Signal) (Info, bool) {
	if sig == nil || sig.Name != settingsIface+".SettingChanged" || len(sig.Body) < 3 {
		return Info{}, false
	}
	ns, _ := sig.Body[0].(string)
	key, _ := sig.Body[1].(string)
	if ns != appearanceNS || key != colorSchemeKey {
		return Info{}, false
	}
	v, ok := sig.Body[2].(dbus.Variant)
	if !ok {
		return Info{}, false
	}
	scheme, err := schemeFromVariant(v)
	if err != nil {
		return Info{}, false
	}
	return Info{PrefersColorScheme: scheme}, true
}

// Portal reads device information from the session bus.
type Portal struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

var _ Provider = (*Portal)(nil)

// NewPortal uses conn, which the caller owns.
func NewPortal(conn *dbus.Conn, logger *slog.Logger) *Portal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Portal{conn: conn, logger: logger}
}

// ConnectPortal connects to the shared session bus.
func ConnectPortal(logger *slog.Logger) (*Portal, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return NewPortal(conn, logger), nil
}

// Info reads the current color-scheme setting.
func (p *Portal) Info(ctx context.Context) (Info, error) {
	obj := p.conn.Object(portalDest, portalPath)

	var v dbus.Variant
	err := obj.CallWithContext(ctx, settingsIface+".Read", 0, appearanceNS, colorSchemeKey).Store(&v)
	if err != nil {
		return Info{}, fmt.Errorf("read %s %s: %w", appearanceNS, colorSchemeKey, err)
	}
	scheme, err := schemeFromVariant(v)
	if err != nil {
		return Info{}, err
	}
	return Info{PrefersColorScheme: scheme}, nil
}

// OnInfoChange listens for SettingChanged signals and blocks until ctx is
// done.
func (p *Portal) OnInfoChange(ctx context.Context, fn func(Info)) error {
	err := p.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchObjectPath(portalPath),
		dbus.WithMatchInterface(settingsIface),
		dbus.WithMatchMember("SettingChanged"),
	)
	if err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	p.conn.Signal(ch)
	defer p.conn.RemoveSignal(ch)

	p.logger.Debug("listening for color-scheme changes", "interface", settingsIface)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if info, ok := infoFromSignal(sig); ok {
				fn(info)
			}
		}
	}
}

// Static is a Provider with fixed information, for hosts without a portal.
type Static Info

var _ Provider = Static{}

func (s Static) Info(context.Context) (Info, error) {
	return Info(s), nil
}

// OnInfoChange never reports a change; it blocks until ctx is done.
func (s Static) OnInfoChange(ctx context.Context, _ func(Info)) error {
	<-ctx.Done()
	return nil
}

// Detect returns the session bus portal, or a Static provider with no
// preference when the bus is unavailable.
func Detect(logger *slog.Logger) Provider {
	p, err := ConnectPortal(logger)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("device portal unavailable", "error", err)
		return Static{}
	}
	return p
}
