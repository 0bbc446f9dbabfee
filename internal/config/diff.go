package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything touching
// provider construction or listeners requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GreetingChanged bool
	NewGreeting     string

	SystemPromptChanged bool
	NewSystemPrompt     string

	TemperatureChanged bool
	NewTemperature     float64
}

// Changed reports whether the diff carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GreetingChanged || d.SystemPromptChanged || d.TemperatureChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Greeting != new.Session.Greeting {
		d.GreetingChanged = true
		d.NewGreeting = new.Session.Greeting
	}

	if old.LLM.SystemPrompt != new.LLM.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.LLM.SystemPrompt
	}

	if old.LLM.Temperature != new.LLM.Temperature {
		d.TemperatureChanged = true
		d.NewTemperature = new.LLM.Temperature
	}

	return d
}
