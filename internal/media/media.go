// Package media holds the pure transforms the worker applies to fetched
// payloads: hero resizes, light image optimization, and best-effort
// document optimization via external tools.
package media

// Output is a transformed payload plus everything the worker needs to
// persist it. Width and Height are read back from the re-encoded bytes,
// never assumed from the input; they stay zero for documents.
type Output struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}
