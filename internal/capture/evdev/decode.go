// Package evdev reads keyboard and mouse events from Linux input devices.
//
// Unlike a terminal, evdev reports key releases, so holds are real.
package evdev

import (
	"bufio"
	"encoding/binary"
	"io"
	"strings"
	"time"

	"github.com/verte-zerg/keyrhythm/internal/capture"
)

// eventSize is sizeof(struct input_event) on 64-bit kernels.
const eventSize = 24

const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02

	synReport = 0x00

	relX = 0x00
	relY = 0x01

	keyBackspace  = 14
	keyLeftCtrl   = 29
	keyLeftShift  = 42
	keyRightShift = 54
	keyLeftAlt    = 56
	keyCapsLock   = 58
	keyRightCtrl  = 97
	keyRightAlt   = 100
	btnLeft       = 0x110

	valueRelease = 0
	valuePress   = 1
)

type rawEvent struct {
	at    time.Time
	typ   uint16
	code  uint16
	value int32
}

func parseRaw(buf []byte) rawEvent {
	sec := int64(binary.LittleEndian.Uint64(buf[0:8]))
	usec := int64(binary.LittleEndian.Uint64(buf[8:16]))
	return rawEvent{
		at:    time.Unix(sec, usec*int64(time.Microsecond)),
		typ:   binary.LittleEndian.Uint16(buf[16:18]),
		code:  binary.LittleEndian.Uint16(buf[18:20]),
		value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}

type keyPair struct {
	plain   rune
	shifted rune
}

// usKeymap maps evdev key codes to glyphs on a US layout.
var usKeymap = map[uint16]keyPair{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
	57: {' ', ' '},
}

// decoder turns raw events of one device into capture events. It tracks
// modifier state and the relative pointer position. Relative motion is
// collected per SYN_REPORT frame so a diagonal move yields one event.
type decoder struct {
	shift  int
	chord  int
	caps   bool
	x, y   float64
	moved  bool
	glyphs map[uint16]rune
}

func newDecoder() *decoder {
	return &decoder{glyphs: map[uint16]rune{}}
}

func (d *decoder) decode(ev rawEvent) (capture.Event, bool) {
	switch ev.typ {
	case evKey:
		return d.decodeKey(ev)
	case evRel:
		switch ev.code {
		case relX:
			d.x += float64(ev.value)
		case relY:
			d.y += float64(ev.value)
		default:
			return capture.Event{}, false
		}
		d.moved = true
	case evSyn:
		if ev.code != synReport || !d.moved {
			return capture.Event{}, false
		}
		d.moved = false
		return capture.Event{Kind: capture.PointerMove, X: d.x, Y: d.y, At: ev.at}, true
	}
	return capture.Event{}, false
}

func trackHeld(n *int, press bool) {
	if press {
		*n++
	} else if *n > 0 {
		*n--
	}
}

func (d *decoder) decodeKey(ev rawEvent) (capture.Event, bool) {
	if ev.value != valuePress && ev.value != valueRelease {
		// Autorepeat.
		return capture.Event{}, false
	}
	press := ev.value == valuePress
	kind := capture.KeyRelease
	if press {
		kind = capture.KeyPress
	}
	switch ev.code {
	case keyLeftShift, keyRightShift:
		trackHeld(&d.shift, press)
		return capture.Event{Kind: kind, At: ev.at}, true
	case keyLeftCtrl, keyRightCtrl, keyLeftAlt, keyRightAlt:
		trackHeld(&d.chord, press)
		return capture.Event{Kind: kind, At: ev.at}, true
	case keyCapsLock:
		if press {
			d.caps = !d.caps
		}
		return capture.Event{Kind: kind, At: ev.at}, true
	case keyBackspace:
		return capture.Event{Kind: kind, Erase: true, At: ev.at}, true
	case btnLeft:
		if !press {
			return capture.Event{}, false
		}
		return capture.Event{Kind: capture.PointerPress, X: d.x, Y: d.y, At: ev.at}, true
	}

	// A release reports the glyph its press produced, even if shift changed in between.
	if !press {
		char := d.glyphs[ev.code]
		delete(d.glyphs, ev.code)
		return capture.Event{Kind: kind, Char: char, At: ev.at}, true
	}
	pair, ok := usKeymap[ev.code]
	// Ctrl and Alt chords are commands, not typing.
	if !ok || d.chord > 0 {
		return capture.Event{Kind: kind, At: ev.at}, true
	}
	char := pair.plain
	upper := d.shift > 0
	if d.caps && pair.plain >= 'a' && pair.plain <= 'z' {
		upper = !upper
	}
	if upper {
		char = pair.shifted
	}
	d.glyphs[ev.code] = char
	return capture.Event{Kind: kind, Char: char, At: ev.at}, true
}

// parseDevices lists event handlers in /proc/bus/input/devices format that
// report keys or relative motion.
func parseDevices(r io.Reader) []string {
	var devices []string
	var handler string
	var hasKeys, hasRel bool
	flush := func() {
		if handler != "" && (hasKeys || hasRel) {
			devices = append(devices, "/dev/input/"+handler)
		}
		handler, hasKeys, hasRel = "", false, false
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(part, "event") {
					handler = part
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			hasKeys = strings.Trim(strings.TrimPrefix(line, "B: KEY="), "0 ") != ""
		case strings.HasPrefix(line, "B: REL="):
			hasRel = strings.Trim(strings.TrimPrefix(line, "B: REL="), "0 ") != ""
		}
	}
	flush()
	return devices
}
