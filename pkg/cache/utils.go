package cache

import "fmt"

// GenerateKey joins prefix and id with a colon. An empty prefix returns id.
func GenerateKey(prefix string, id string) string {
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s:%s", prefix, id)
}
