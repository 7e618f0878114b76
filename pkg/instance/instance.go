package instance

import "os"

var idSources = []string{"CARTSYNC_INSTANCE_ID", "DYNO", "HOSTNAME"}

// ID returns the process instance identifier attached to startup logs.
func ID() string {
	for _, key := range idSources {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
