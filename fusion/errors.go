package fusion

import "fmt"

// ConfigurationError reports settings that can't work together, such as colour
// tracking without a colour camera.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bad fusion configuration: %s", e.Reason)
}
