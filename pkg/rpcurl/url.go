// Package rpcurl parses the URL form that identifies an RPC endpoint:
// <scheme>://[user@]host[:port][?query] for network schemes, or
// <scheme>:<path>[?query] for local-device schemes, per spec.md §6.
package rpcurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is one of the transport schemes a URL may name.
type Scheme string

const (
	TCP   Scheme = "tcp"
	TCPS  Scheme = "tcps" // TCP carrying Serial framing instead of Stream framing
	SSL   Scheme = "ssl"
	SSLS  Scheme = "ssls"
	Unix  Scheme = "unix"
	UnixS Scheme = "unixs"
	TTY   Scheme = "tty" // alias "serial"
	WS    Scheme = "ws"
	WSS   Scheme = "wss"
)

var defaultPorts = map[Scheme]int{
	TCP:  3755,
	TCPS: 3765,
	SSL:  3756,
	SSLS: 3766,
}

// URL is a parsed RPC endpoint.
type URL struct {
	Scheme Scheme

	Host string // network schemes
	Port int    // network schemes, already defaulted per Scheme
	Path string // unix/tty schemes: the socket or device path

	User     string
	Password string // plaintext, from the "password" query key
	ShaPass  string // 40-hex SHA1, from the "shapass" query key
	DevID    string
	DevMount string
	BaudRate int // tty/serial only, 0 if unspecified
}

// Parse parses s into a URL, resolving the scheme's default port when
// none is given and the scheme is network-addressed.
func Parse(s string) (*URL, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return nil, fmt.Errorf("rpcurl: missing scheme in %q", s)
	}
	rawScheme := s[:idx]
	scheme, err := normalizeScheme(rawScheme)
	if err != nil {
		return nil, err
	}

	u := &URL{Scheme: scheme}

	rest := s[idx+1:]
	if strings.HasPrefix(rest, "//") {
		parsed, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("rpcurl: %w", err)
		}
		u.Host = parsed.Hostname()
		if parsed.User != nil {
			u.User = parsed.User.Username()
		}
		if portStr := parsed.Port(); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("rpcurl: invalid port %q", portStr)
			}
			u.Port = port
		} else if def, ok := defaultPorts[scheme]; ok {
			u.Port = def
		}
		if err := applyQuery(u, parsed.RawQuery); err != nil {
			return nil, err
		}
		return u, nil
	}

	// <scheme>:<path>[?query], used by unix/unixs/tty sockets and device
	// files, which don't have a host:port authority.
	path := rest
	query := ""
	if qIdx := strings.Index(rest, "?"); qIdx >= 0 {
		path = rest[:qIdx]
		query = rest[qIdx+1:]
	}
	u.Path = path
	if err := applyQuery(u, query); err != nil {
		return nil, err
	}
	return u, nil
}

func normalizeScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return TCP, nil
	case "tcps":
		return TCPS, nil
	case "ssl":
		return SSL, nil
	case "ssls":
		return SSLS, nil
	case "unix":
		return Unix, nil
	case "unixs":
		return UnixS, nil
	case "tty", "serial":
		return TTY, nil
	case "ws":
		return WS, nil
	case "wss":
		return WSS, nil
	default:
		return "", fmt.Errorf("rpcurl: unknown scheme %q", s)
	}
}

func applyQuery(u *URL, rawQuery string) error {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return fmt.Errorf("rpcurl: invalid query: %w", err)
	}
	if v := q.Get("user"); v != "" {
		u.User = v
	}
	u.Password = q.Get("password")
	u.ShaPass = q.Get("shapass")
	u.DevID = q.Get("devid")
	u.DevMount = q.Get("devmount")
	if v := q.Get("baudrate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("rpcurl: invalid baudrate %q", v)
		}
		u.BaudRate = rate
	}
	return nil
}

// String renders u back to its wire form.
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(string(u.Scheme))
	b.WriteString("://")
	switch u.Scheme {
	case Unix, UnixS, TTY:
		b.Reset()
		b.WriteString(string(u.Scheme))
		b.WriteString(":")
		b.WriteString(u.Path)
	default:
		if u.User != "" {
			b.WriteString(u.User)
			b.WriteByte('@')
		}
		b.WriteString(u.Host)
		if u.Port != 0 {
			fmt.Fprintf(&b, ":%d", u.Port)
		}
	}

	q := url.Values{}
	if u.Password != "" {
		q.Set("password", u.Password)
	}
	if u.ShaPass != "" {
		q.Set("shapass", u.ShaPass)
	}
	if u.DevID != "" {
		q.Set("devid", u.DevID)
	}
	if u.DevMount != "" {
		q.Set("devmount", u.DevMount)
	}
	if u.BaudRate != 0 {
		q.Set("baudrate", strconv.Itoa(u.BaudRate))
	}
	if encoded := q.Encode(); encoded != "" {
		b.WriteByte('?')
		b.WriteString(encoded)
	}
	return b.String()
}

// IsSerialFraming reports whether the endpoint uses Serial framing
// (tcps, tty/serial) rather than Stream framing.
func (u *URL) IsSerialFraming() bool {
	return u.Scheme == TCPS || u.Scheme == TTY
}

// IsTLS reports whether the endpoint requires a TLS dial (ssl/ssls).
func (u *URL) IsTLS() bool {
	return u.Scheme == SSL || u.Scheme == SSLS
}

// IsWebSocket reports whether the endpoint is a WebSocket transport.
func (u *URL) IsWebSocket() bool {
	return u.Scheme == WS || u.Scheme == WSS
}

// Address returns the "host:port" dial address for network schemes.
func (u *URL) Address() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}
