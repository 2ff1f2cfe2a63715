package config

const (
	DefaultTimeZone = "America/New_York"

	// Residuals service defaults.
	DefaultResidualsPort = 7143
	UploadMaxBytes       = 32 << 20

	// Nightly split-revalidation job. Every pipeline stage is idempotent, so
	// re-running the validator out of band is always safe.
	DefaultRevalidationSchedule = "0 2 * * *"
)
