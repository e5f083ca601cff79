package config

// Watcher is implemented by anything that can supply configuration updates.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}
