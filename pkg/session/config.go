package session

// Config tunes session actors.
type Config struct {
	// QueueSize is the capacity of each actor's operation queue. Senders of
	// authoritative operations wait for room; cursor moves are dropped when
	// the queue is full.
	// Default: 256
	QueueSize int

	// MaxUndoDepth caps the undo stack. The oldest steps are forgotten once
	// the cap is reached; their drawings stay on the canvas and can still be
	// removed one at a time.
	// Default: 1000
	MaxUndoDepth int

	// ResyncAfterHistoryChange makes undo and redo follow their payload-less
	// notification with a full session-state push to every member.
	// Default: true
	ResyncAfterHistoryChange bool
}

// DefaultConfig returns a Config with the defaults above.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:                256,
		MaxUndoDepth:             1000,
		ResyncAfterHistoryChange: true,
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return DefaultConfig()
	}
	clone := *c
	return &clone
}

func (c *Config) normalize() *Config {
	out := c.Clone()
	def := DefaultConfig()
	if out.QueueSize <= 0 {
		out.QueueSize = def.QueueSize
	}
	if out.MaxUndoDepth <= 0 {
		out.MaxUndoDepth = def.MaxUndoDepth
	}
	return out
}
