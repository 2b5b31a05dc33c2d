package lockwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	logindService          = "org.freedesktop.login1"
	logindPath             = dbus.ObjectPath("/org/freedesktop/login1")
	logindManagerInterface = "org.freedesktop.login1.Manager"
	logindSessionInterface = "org.freedesktop.login1.Session"

	signalLock   = logindSessionInterface + ".Lock"
	signalUnlock = logindSessionInterface + ".Unlock"
)

// Config configures a Watcher.
type Config struct {
	// Session is the logind session id to follow. Empty means the session
	// of $XDG_SESSION_ID, then the session of this process, then every
	// session.
	Session string

	Logger *slog.Logger
}

// Watcher follows logind lock state into a Gate.
type Watcher struct {
	gate    *Gate
	conn    *dbus.Conn
	session dbus.ObjectPath // empty: all sessions
	logger  *slog.Logger
}

// NewWatcher connects to the system bus and resolves the session to
// follow. The gate starts paused when the session is already locked.
func NewWatcher(gate *Gate, cfg Config) (*Watcher, error) {
	if gate == nil {
		return nil, errors.New("lockwatch: nil gate")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("lockwatch: connect to system bus: %w", err)
	}

	w := &Watcher{
		gate:   gate,
		conn:   conn,
		logger: logger.With("component", "lockwatch"),
	}

	w.session, err = w.resolveSession(cfg.Session)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if w.session != "" {
		locked, err := w.lockedHint()
		if err != nil {
			w.logger.Warn("could not read session lock state", "session", w.session, "error", err)
		} else {
			w.gate.Set(locked)
		}
	}
	return w, nil
}

func (w *Watcher) resolveSession(id string) (dbus.ObjectPath, error) {
	manager := w.conn.Object(logindService, logindPath)

	if id == "" {
		id = os.Getenv("XDG_SESSION_ID")
	}
	if id != "" {
		var path dbus.ObjectPath
		if err := manager.Call(logindManagerInterface+".GetSession", 0, id).Store(&path); err != nil {
			return "", fmt.Errorf("lockwatch: session %s: %w", id, err)
		}
		return path, nil
	}

	var path dbus.ObjectPath
	if err := manager.Call(logindManagerInterface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path); err != nil {
		// System services run outside any session
		w.logger.Debug("not in a logind session, following all sessions", "error", err)
		return "", nil
	}
	return path, nil
}

func (w *Watcher) lockedHint() (bool, error) {
	v, err := w.conn.Object(logindService, w.session).GetProperty(logindSessionInterface + ".LockedHint")
	if err != nil {
		return false, err
	}
	locked, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("LockedHint has type %s", v.Signature())
	}
	return locked, nil
}

// Run delivers lock signals to the gate until ctx is cancelled, then
// closes the bus connection.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.conn.Close()

	opts := []dbus.MatchOption{
		dbus.WithMatchSender(logindService),
		dbus.WithMatchInterface(logindSessionInterface),
	}
	if w.session != "" {
		opts = append(opts, dbus.WithMatchObjectPath(w.session))
	}
	if err := w.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("lockwatch: subscribe: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	w.logger.Info("watching screen lock", "session", sessionLabel(w.session), "paused", w.gate.Paused())

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return errors.New("lockwatch: bus connection closed")
			}
			w.handle(sig)
		}
	}
}

func (w *Watcher) handle(sig *dbus.Signal) {
	if w.session != "" && sig.Path != w.session {
		return
	}

	var paused bool
	switch sig.Name {
	case signalLock:
		paused = true
	case signalUnlock:
		paused = false
	default:
		return
	}

	if w.gate.Set(paused) {
		w.logger.Info("screen lock changed", "session", sig.Path, "locked", paused)
	}
}

func sessionLabel(p dbus.ObjectPath) string {
	if p == "" {
		return "all"
	}
	return string(p)
}
