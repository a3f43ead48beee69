package stomp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is the broker address. It is fixed for the lifetime of a Conn.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint splits "host:port".
func ParseEndpoint(addr string) (Endpoint, error) {
	host, portRaw, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q", ErrInvalidEndpoint, portRaw)
	}
	ep := Endpoint{Host: host, Port: port}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}
