package bus

import (
	"github.com/toby1123yjh/eventbus/pkg/eventbus/config"
)

// DelayedConfiguration controls the delayed-event scheduler the async bus
// lazily creates on first PostDelayed call.
type DelayedConfiguration struct {
	Enabled          bool
	CoreWorkers      int
	ThreadNamePrefix string
}

// Configuration is the bus-wide equivalent of EasyEventBusProperties: the
// settings a deployment loads from file or environment rather than wiring
// through Option values in code.
type Configuration struct {
	Identifier             string
	AsyncEnabled           bool
	AsyncWorkers           int
	MaxSubscribersPerEvent int
	Delayed                DelayedConfiguration
}

// defaultConfiguration mirrors EasyEventBusProperties' defaults:
// identifier "default", maxSubscribersPerEvent 1000, async pool size 10,
// delayed scheduler enabled with 2 core workers named "DelayedEvent-".
func defaultConfiguration() Configuration {
	return Configuration{
		Identifier:             "default",
		AsyncEnabled:           false,
		AsyncWorkers:           10,
		MaxSubscribersPerEvent: 1000,
		Delayed: DelayedConfiguration{
			Enabled:          true,
			CoreWorkers:      2,
			ThreadNamePrefix: "DelayedEvent-",
		},
	}
}

// FromConfig adapts a generic config.Config into a Configuration, applying
// the same defaults as defaultConfiguration for anything cfg doesn't set.
func FromConfig(cfg config.Config) Configuration {
	c := defaultConfiguration()
	c.Identifier = cfg.String("identifier", c.Identifier)
	c.AsyncEnabled = cfg.Bool("async_enabled", c.AsyncEnabled)
	c.AsyncWorkers = cfg.Int("async_thread_pool_size", c.AsyncWorkers)
	c.MaxSubscribersPerEvent = cfg.Int("max_subscribers_per_event", c.MaxSubscribersPerEvent)
	c.Delayed.Enabled = cfg.Bool("delayed_event.enabled", c.Delayed.Enabled)
	c.Delayed.CoreWorkers = cfg.Int("delayed_event.core_pool_size", c.Delayed.CoreWorkers)
	c.Delayed.ThreadNamePrefix = cfg.String("delayed_event.thread_name_prefix", c.Delayed.ThreadNamePrefix)
	return c
}
