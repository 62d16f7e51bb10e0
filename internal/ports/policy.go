package ports

import "time"

// Policy tunes the queues and worker loops.
type Policy struct {
	QueueCapacity   int           `yaml:"queue_capacity"`
	PutTimeout      time.Duration `yaml:"put_timeout"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`
	SamplesPerCycle int           `yaml:"samples_per_cycle"` // sample events handled per manager iteration
	EventsPerCycle  int           `yaml:"events_per_cycle"`  // transport events and commands per dispatcher iteration
}
