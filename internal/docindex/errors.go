package docindex

import "fmt"

// IngestError reports a document that cannot be ingested: an unsupported
// file type, unreadable content or no extractable text. It is not retried.
type IngestError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest %s: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("ingest %s: %s", e.Filename, e.Reason)
}

func (e *IngestError) Unwrap() error { return e.Err }
