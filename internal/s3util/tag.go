package s3util

const (
	projectName = "card-restore"
	// projectTag is the URL-encoded object tagging string for cost allocation.
	projectTag = "Project=" + projectName
)

// ProjectTagging returns a pointer to the URL-encoded S3 object tagging string.
func ProjectTagging() *string {
	t := projectTag
	return &t
}
