package platform

import (
	"fmt"
	"os"
	"strings"
)

// Config holds the platform connection credentials. The values are opaque
// to the application; they are supplied at process start and passed through
// to the platform unchanged.
type Config struct {
	// APIKey authenticates the application (not the user) with the
	// platform's identity endpoints
	APIKey string

	// ProjectID is the platform project identifier
	ProjectID string

	// DatabaseURL is the base URL of the realtime database
	// (e.g., "https://my-project-default-rtdb.firebaseio.com")
	DatabaseURL string
}

// ConfigFromEnv builds a Config from TASKDECK_* environment variables.
func ConfigFromEnv() Config {
	return Config{
		APIKey:      os.Getenv("TASKDECK_API_KEY"),
		ProjectID:   os.Getenv("TASKDECK_PROJECT_ID"),
		DatabaseURL: strings.TrimRight(os.Getenv("TASKDECK_DATABASE_URL"), "/"),
	}
}

// Validate checks that the required credentials are present.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("platform config: API key is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("platform config: database URL is required")
	}
	return nil
}
