package tarantool_queue

/*
Tarantool queue connector for the cross-instance event bus. Publishing puts
the payload onto a queue named after the channel (":" replaced by "_");
subscribing takes from that queue in a background loop, so unlike the broker
backends each payload reaches exactly one consumer.

Settings expected in the "tarantool_queue" bus section:

host = "localhost"
port = "3301"
user = "user"
password = "pass"
max_recons = 5
timeout = 1
reconnect = 1
*/

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarantool/go-tarantool"
	"github.com/tarantool/go-tarantool/queue"
)

type Connector struct {
	connection *tarantool.Connection
	queues     map[string]queue.Queue
	config     map[string]string
	closed     chan struct{}
}

func (c *Connector) Init(cfg map[string]string) error {
	if cfg == nil {
		return fmt.Errorf("empty tarantool configuration")
	}
	c.config = cfg
	c.queues = make(map[string]queue.Queue)
	c.closed = make(chan struct{})

	conStr := fmt.Sprintf("%s:%s", cfg["host"], cfg["port"])

	maxRecons, err := strconv.Atoi(cfg["max_recons"])
	if err != nil {
		return fmt.Errorf("invalid max_recons: %v", err)
	}
	timeout, err := strconv.Atoi(cfg["timeout"])
	if err != nil {
		return fmt.Errorf("invalid timeout: %v", err)
	}
	reconnect, err := strconv.Atoi(cfg["reconnect"])
	if err != nil {
		return fmt.Errorf("invalid reconnect: %v", err)
	}
	opts := tarantool.Opts{
		Timeout:       time.Duration(timeout) * time.Second,
		Reconnect:     time.Duration(reconnect) * time.Second,
		MaxReconnects: uint(maxRecons),
		User:          cfg["user"],
		Pass:          cfg["password"],
	}

	c.connection, err = tarantool.Connect(conStr, opts)
	if err != nil {
		return fmt.Errorf("failed to connect to Tarantool: %v", err)
	}
	return nil
}

func (c *Connector) queueFor(channel string) queue.Queue {
	name := strings.ReplaceAll(channel, ":", "_")
	q, ok := c.queues[name]
	if !ok {
		q = queue.New(c.connection, name)
		c.queues[name] = q
	}
	return q
}

func (c *Connector) Publish(channel string, payload []byte) error {
	if c.connection == nil {
		return fmt.Errorf("tarantool connection is not initialized")
	}
	if _, err := c.queueFor(channel).Put(payload); err != nil {
		return fmt.Errorf("failed to put message: %v", err)
	}
	return nil
}

func (c *Connector) Subscribe(channel string, handler func(payload []byte)) error {
	if c.connection == nil {
		return fmt.Errorf("tarantool connection is not initialized")
	}
	q := c.queueFor(channel)

	go func() {
		for {
			select {
			case <-c.closed:
				return
			default:
			}

			task, err := q.TakeTimeout(time.Second)
			if err != nil || task == nil {
				continue
			}
			if raw, ok := task.Data().([]byte); ok {
				handler(raw)
			} else if s, ok := task.Data().(string); ok {
				handler([]byte(s))
			}
			task.Ack()
		}
	}()
	return nil
}

func (c *Connector) Close() error {
	if c.closed != nil {
		close(c.closed)
	}
	if c.connection != nil {
		return c.connection.Close()
	}
	return nil
}
