package cache

import "fmt"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("raven:job:%s:status", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("raven:ratelimit:%s", keyPrefix)
}
