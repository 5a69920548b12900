package pagemarkd

import "os"

// Config holds the server's runtime settings, loaded from the
// environment.
type Config struct {
	// Addr is the listen address.
	Addr string
	// DatabasePath is the SQLite file; ":memory:" works for throwaway
	// runs.
	DatabasePath string
	// AuthToken, when set, is required as a bearer token on REST calls
	// and as the token query parameter on the WebSocket handshake.
	// Empty disables authentication.
	AuthToken string
}

func LoadConfig() Config {
	return Config{
		Addr:         getEnv("PAGEMARKD_ADDR", ":8080"),
		DatabasePath: getEnv("PAGEMARKD_DB", "pagemark.db"),
		AuthToken:    getEnv("PAGEMARKD_TOKEN", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
