package discovery

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Marker starts every announcement datagram.
	Marker = "OOCSI@"

	DefaultGroup = "224.0.0.144"
	DefaultPort  = 4448
)

// Some servers append a description in parentheses after the address.
var suffixPattern = regexp.MustCompile(`\(.*\)`)

// Result is the address of a server found through an announcement.
type Result struct {
	Host string
	Port int
}

// Addr returns the result as a host:port string.
func (r Result) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// ParseAnnouncement extracts the server address from an announcement
// payload. ok is false for anything that is not a well formed announcement.
func ParseAnnouncement(payload []byte) (result Result, ok bool) {
	s := strings.TrimRight(string(payload), "\x00 \t\r\n")
	if !strings.HasPrefix(s, Marker) {
		return Result{}, false
	}

	s = strings.TrimPrefix(s, Marker)
	s = suffixPattern.ReplaceAllString(s, "")

	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Result{}, false
	}

	host := strings.TrimSpace(parts[0])
	rawPort := strings.TrimSpace(parts[1])

	if host == "" || rawPort == "" {
		return Result{}, false
	}

	port, err := strconv.Atoi(rawPort)
	if err != nil || port < 1 || port > 65535 {
		return Result{}, false
	}

	return Result{Host: host, Port: port}, true
}

// FormatAnnouncement builds the payload announcing a server at host:port.
func FormatAnnouncement(host string, port int) []byte {
	return []byte(Marker + host + ":" + strconv.Itoa(port))
}
