package nats

/*
NATS connector for the cross-instance event bus.

Settings expected in the "nats" bus section:

server = "nats://localhost:4222"
*/

import (
	"fmt"

	natsgo "github.com/nats-io/nats.go"
)

type Connector struct {
	conn   *natsgo.Conn
	config map[string]string
}

func (c *Connector) Init(cfg map[string]string) error {
	if cfg == nil {
		return fmt.Errorf("empty nats configuration")
	}
	c.config = cfg

	server := cfg["server"]
	if server == "" {
		server = natsgo.DefaultURL
	}

	conn, err := natsgo.Connect(server)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %v", err)
	}
	c.conn = conn
	return nil
}

func (c *Connector) Publish(channel string, payload []byte) error {
	if c.conn == nil {
		return fmt.Errorf("nats connection is not initialized")
	}
	return c.conn.Publish(channel, payload)
}

func (c *Connector) Subscribe(channel string, handler func(payload []byte)) error {
	if c.conn == nil {
		return fmt.Errorf("nats connection is not initialized")
	}
	_, err := c.conn.Subscribe(channel, func(m *natsgo.Msg) {
		handler(m.Data)
	})
	return err
}

func (c *Connector) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}
