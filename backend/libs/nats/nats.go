package nats

import (
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReconnectWait  = 2 * time.Second
)

// NewConnection dials NATS. Reconnects are unlimited.
func NewConnection(url, name string) (*nats.Conn, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("nats: url is empty")
	}

	return nats.Connect(url,
		nats.Name(name),
		nats.Timeout(defaultConnectTimeout),
		nats.ReconnectWait(defaultReconnectWait),
		nats.MaxReconnects(-1),
	)
}
