//go:build linux

// Package x11input injects key events into an X server through XTEST for
// sessions where uinput is unavailable.
package x11input

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"touchkbd/internal/adapters/linuxinput"
	"touchkbd/internal/core/input"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgb/xtest"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
)

// evdevKeycodeOffset is the distance between kernel key codes and X
// keycodes on servers using the evdev keymap.
const evdevKeycodeOffset = 8

type Keyboard struct {
	xu      *xgbutil.XUtil
	conn    *xgb.Conn
	rootWin xproto.Window
	logger  input.Logger

	mu       sync.Mutex
	keycodes map[uint16]xproto.Keycode
	closed   bool
}

// NewKeyboard connects to the X server named by $DISPLAY and resolves an X
// keycode for each of codes. Codes without one are logged and dropped when
// written.
func NewKeyboard(codes []uint16, logger input.Logger) (*Keyboard, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, err
	}
	conn := xu.Conn()
	if conn == nil {
		return nil, fmt.Errorf("failed to open X11 connection")
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, err
	}
	keybind.Initialize(xu)

	k := &Keyboard{
		xu:       xu,
		conn:     conn,
		rootWin:  xu.RootWin(),
		logger:   logger,
		keycodes: make(map[uint16]xproto.Keycode, len(codes)),
	}
	for _, code := range codes {
		keycode, ok := k.resolve(code)
		if !ok {
			logger.Warn("No X11 keycode for key", "key", linuxinput.FormatCodeName(code))
			continue
		}
		k.keycodes[code] = keycode
	}
	return k, nil
}

func (k *Keyboard) resolve(code uint16) (xproto.Keycode, bool) {
	if keysym, ok := xKeyName(code); ok {
		keycodes := keybind.StrToKeycodes(k.xu, keysym)
		if len(keycodes) > 0 {
			sort.Slice(keycodes, func(i, j int) bool { return keycodes[i] < keycodes[j] })
			return keycodes[0], true
		}
	}
	return evdevKeycode(code)
}

func (k *Keyboard) WriteEvents(events ...input.Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("x11 keyboard is closed")
	}

	dirty := false
	for _, event := range events {
		switch event.Type {
		case input.EventTypeSyn:
			if event.Code == input.SynReportCode && dirty {
				k.conn.Sync()
				dirty = false
			}
		case input.EventTypeKey:
			keycode, ok := k.keycodes[event.Code]
			if !ok {
				k.logger.Debug("Dropping key without X11 keycode", "key", linuxinput.FormatCodeName(event.Code))
				continue
			}

			var eventType byte
			switch event.Value {
			case 1:
				eventType = xproto.KeyPress
			case 0:
				eventType = xproto.KeyRelease
			default:
				continue
			}
			if err := xtest.FakeInputChecked(
				k.conn,
				eventType,
				byte(keycode),
				xproto.TimeCurrentTime,
				k.rootWin,
				0,
				0,
				0,
			).Check(); err != nil {
				return err
			}
			dirty = true
		}
	}
	if dirty {
		k.conn.Sync()
	}
	return nil
}

func (k *Keyboard) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	k.conn.Close()
	return nil
}

func evdevKeycode(code uint16) (xproto.Keycode, bool) {
	keycode := int(code) + evdevKeycodeOffset
	if keycode > 255 {
		return 0, false
	}
	return xproto.Keycode(keycode), true
}

// xKeyNames maps kernel key name suffixes to X keysym names where they
// differ beyond case.
var xKeyNames = map[string]string{
	"ESC":            "Escape",
	"ENTER":          "Return",
	"TAB":            "Tab",
	"SPACE":          "space",
	"BACKSPACE":      "BackSpace",
	"LEFTSHIFT":      "Shift_L",
	"RIGHTSHIFT":     "Shift_R",
	"LEFTCTRL":       "Control_L",
	"RIGHTCTRL":      "Control_R",
	"LEFTALT":        "Alt_L",
	"RIGHTALT":       "Alt_R",
	"LEFTMETA":       "Super_L",
	"RIGHTMETA":      "Super_R",
	"CAPSLOCK":       "Caps_Lock",
	"PAGEUP":         "Page_Up",
	"PAGEDOWN":       "Page_Down",
	"INSERT":         "Insert",
	"DELETE":         "Delete",
	"HOME":           "Home",
	"END":            "End",
	"UP":             "Up",
	"DOWN":           "Down",
	"LEFT":           "Left",
	"RIGHT":          "Right",
	"MENU":           "Menu",
	"MINUS":          "minus",
	"EQUAL":          "equal",
	"LEFTBRACE":      "bracketleft",
	"RIGHTBRACE":     "bracketright",
	"SEMICOLON":      "semicolon",
	"APOSTROPHE":     "apostrophe",
	"GRAVE":          "grave",
	"BACKSLASH":      "backslash",
	"COMMA":          "comma",
	"DOT":            "period",
	"SLASH":          "slash",
	"MUTE":           "XF86AudioMute",
	"VOLUMEUP":       "XF86AudioRaiseVolume",
	"VOLUMEDOWN":     "XF86AudioLowerVolume",
	"BRIGHTNESSUP":   "XF86MonBrightnessUp",
	"BRIGHTNESSDOWN": "XF86MonBrightnessDown",
}

func xKeyName(code uint16) (string, bool) {
	name := linuxinput.FormatCodeName(code)
	if !strings.HasPrefix(name, "KEY_") {
		return "", false
	}
	token := strings.TrimPrefix(name, "KEY_")

	if keysym, ok := xKeyNames[token]; ok {
		return keysym, true
	}
	if len(token) == 1 && token[0] >= 'A' && token[0] <= 'Z' {
		return strings.ToLower(token), true
	}
	if len(token) == 1 && token[0] >= '0' && token[0] <= '9' {
		return token, true
	}
	if strings.HasPrefix(token, "F") && len(token) > 1 && isDigits(token[1:]) {
		return token, true
	}
	return "", false
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
