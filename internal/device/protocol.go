package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Wire protocol bytes and formats.
const (
	cmdSetClock byte = 0x00
	cmdGetClock byte = 0x01
	cmdReset    byte = 0x02

	handshakeMarker = "Connection"

	// clockLayout is ddmmyyHHMMSS, sent after cmdSetClock.
	clockLayout = "020106150405"
)

var (
	ErrReadTimeout   = errors.New("read timed out")
	ErrUndecodable   = errors.New("line is not valid text")
	ErrHandshake     = errors.New("handshake marker not received")
	ErrNoDevice      = errors.New("no compatible device found")
	ErrSyncExhausted = errors.New("device never confirmed the new time")
)

// ProtocolError reports a failed exchange with one port.
type ProtocolError struct {
	Port        string
	Description string
	Op          string
	Err         error
}

func (e *ProtocolError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("device: %s %s (%s): %v", e.Op, e.Port, e.Description, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// setClockCommand builds 0x00 followed by the ASCII time.
func setClockCommand(now time.Time) []byte {
	return append([]byte{cmdSetClock}, now.Format(clockLayout)...)
}

// readLine reads bytes until '\n' or until timeout elapses. The trailing
// "\r\n" is stripped.
func readLine(p Port, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var line []byte
	buf := make([]byte, 1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrReadTimeout
		}
		if err := p.SetReadTimeout(remaining); err != nil {
			return "", err
		}
		n, err := p.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		if buf[0] == '\n' {
			return strings.TrimSuffix(string(line), "\r"), nil
		}
		line = append(line, buf[0])
	}
}

// decode checks that a raw line is text.
func decode(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", ErrUndecodable
	}
	return raw, nil
}

// ParseClock parses the device's "dd,mm,yy,HH,MM,SS" reply as a wall-clock
// time in time.Local. Fields need not be zero-padded.
func ParseClock(s string) (time.Time, bool) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) != 6 {
		return time.Time{}, false
	}
	var v [6]int
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return time.Time{}, false
		}
		v[i] = n
	}
	day, month, year, hour, minute, second := v[0], v[1], v[2], v[3], v[4], v[5]
	if year > 99 {
		return time.Time{}, false
	}

	t := time.Date(2000+year, time.Month(month), day, hour, minute, second, 0, time.Local)
	// time.Date normalizes out-of-range fields; a valid reading survives unchanged.
	if t.Day() != day || int(t.Month()) != month || t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return time.Time{}, false
	}
	return t, true
}
