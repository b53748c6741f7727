package otel

// Config holds settings for the bridge's own metrics export.
type Config struct {
	Enabled  bool   `envconfig:"OTEL_EXPORT_ENABLED" default:"false"`
	Endpoint string `envconfig:"OTEL_EXPORT_ENDPOINT"`
	Insecure bool   `envconfig:"OTEL_EXPORT_INSECURE" default:"true"`
}
