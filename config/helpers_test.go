// ABOUTME: Test helpers for config tests
// ABOUTME: Provides utilities for environment variable management

package config

import (
	"os"
	"testing"
)

// withCleanUpstreamEnv clears the environment, sets UPSTREAM_BASE_URL to a
// test value, and returns a cleanup function that restores the original env.
// Use with t.Cleanup().
//
// Example:
//
//	func TestSomething(t *testing.T) {
//	    t.Cleanup(withCleanUpstreamEnv(t))
//	}
func withCleanUpstreamEnv(t *testing.T) func() {
	t.Helper()
	return withCleanUpstreamEnvAndExtra(t, nil)
}

// withCleanUpstreamEnvAndExtra clears the environment, sets the required
// upstream URL plus additional vars, and returns a cleanup function that
// restores the original env. Use with t.Cleanup().
//
// Example:
//
//	func TestSomething(t *testing.T) {
//	    t.Cleanup(withCleanUpstreamEnvAndExtra(t, map[string]string{
//	        "APP_ENV": "production",
//	    }))
//	}
func withCleanUpstreamEnvAndExtra(t *testing.T, extra map[string]string) func() {
	t.Helper()

	// Save entire environment
	originalEnv := os.Environ()

	// Clear environment for clean slate
	os.Clearenv()

	os.Setenv("UPSTREAM_BASE_URL", "https://api.example.test")

	for key, value := range extra {
		os.Setenv(key, value)
	}

	// Return cleanup function that restores original environment
	return func() {
		os.Clearenv()
		for _, env := range originalEnv {
			for i := 0; i < len(env); i++ {
				if env[i] == '=' {
					os.Setenv(env[:i], env[i+1:])
					break
				}
			}
		}
	}
}
