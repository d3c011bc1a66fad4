package bus

import (
	"github.com/towfleet/tracking/cli/tracker/bus/nats"
	"github.com/towfleet/tracking/cli/tracker/bus/rabbitmq"
	"github.com/towfleet/tracking/cli/tracker/bus/tarantool_queue"
)

// New builds and connects the bus backend named by the config section key.
func New(kind string, cfg map[string]string) (Publisher, error) {
	var p Publisher
	switch kind {
	case "", "memory":
		p = NewMemory()
	case "nats":
		p = &nats.Connector{}
	case "rabbitmq":
		p = &rabbitmq.Connector{}
	case "tarantool_queue":
		p = &tarantool_queue.Connector{}
	default:
		return nil, ErrUnknownBus
	}

	if err := p.Init(cfg); err != nil {
		return nil, err
	}
	return p, nil
}
