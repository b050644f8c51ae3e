package checker

// FormatError marks a terminally malformed email address. It is returned as
// data on the report, never thrown across the pipeline.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "format error: " + e.Reason
}

// ConfigError marks an invalid construction-time configuration. New fails
// fast with it before any request is served.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}
