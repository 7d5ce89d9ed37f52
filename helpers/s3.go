package helpers

import "fmt"

// NewS3Key constructs an S3 key for a message.
func NewS3Key(domain, localPart, id string) string {
	return fmt.Sprintf("%s/%s/%s", domain, localPart, id)
}
