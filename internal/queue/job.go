package queue

import "fmt"

// Kind identifies the transform family a queued job requests.
// Adding a kind means registering a worker binding for it; unknown
// kinds are discarded as permanent failures rather than retried.
type Kind string

const (
	KindHeroSmall          Kind = "hero-small"
	KindHeroLarge          Kind = "hero-large"
	KindImageOptimize      Kind = "image-optimize"
	KindDocumentAttachment Kind = "document-attachment"
)

// Valid reports whether k is one of the known transform families.
func (k Kind) Valid() bool {
	switch k {
	case KindHeroSmall, KindHeroLarge, KindImageOptimize, KindDocumentAttachment:
		return true
	}
	return false
}

// Job is the queue payload referencing an uploaded file awaiting
// processing. No bytes travel on the queue; workers fetch by SourceKey.
type Job struct {
	Kind          Kind   `json:"kind"`
	OwnerEntityID int64  `json:"ownerEntityId"`
	FileRecordID  int64  `json:"fileRecordId"`
	SourceKey     string `json:"sourceKey"`
}

func (j Job) Validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if j.FileRecordID <= 0 {
		return fmt.Errorf("missing file record id")
	}
	if j.SourceKey == "" {
		return fmt.Errorf("missing source key")
	}
	return nil
}
