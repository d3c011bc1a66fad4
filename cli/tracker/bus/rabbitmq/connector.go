package rabbitmq

/*
RabbitMQ connector for the cross-instance event bus. Each channel maps to a
fanout exchange; every subscriber gets its own exclusive queue.

Settings expected in the "rabbitmq" bus section:

host = "localhost"
port = "5672"
user = "guest"
password = "guest"
*/

import (
	"fmt"

	"github.com/streadway/amqp"
)

type Connector struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  map[string]string
}

func (c *Connector) Init(cfg map[string]string) error {
	if cfg == nil {
		return fmt.Errorf("empty rabbitmq configuration")
	}
	c.config = cfg

	url := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg["user"], cfg["password"], cfg["host"], cfg["port"])

	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %v", err)
	}
	c.conn = conn
	c.channel = ch
	return nil
}

func (c *Connector) ensureExchange(name string) error {
	return c.channel.ExchangeDeclare(name, "fanout", false, false, false, false, nil)
}

func (c *Connector) Publish(channel string, payload []byte) error {
	if c.channel == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}
	if err := c.ensureExchange(channel); err != nil {
		return err
	}
	return c.channel.Publish(channel, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

func (c *Connector) Subscribe(channel string, handler func(payload []byte)) error {
	if c.channel == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}
	if err := c.ensureExchange(channel); err != nil {
		return err
	}

	q, err := c.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %v", err)
	}
	if err := c.channel.QueueBind(q.Name, "", channel, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %v", err)
	}

	deliveries, err := c.channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %v", err)
	}

	go func() {
		for d := range deliveries {
			handler(d.Body)
		}
	}()
	return nil
}

func (c *Connector) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
