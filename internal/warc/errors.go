package warc

import "errors"

var (
	// ErrEncode is returned when a record cannot be serialized into WARC.
	// The writer is left exactly as it was before the failed write.
	ErrEncode = errors.New("warc: encode failure")
	// ErrWriterFinished is returned by a writer that has already been finished.
	ErrWriterFinished = errors.New("warc: writer already finished")
	// ErrMalformedRecord is returned by Reader for input that is not WARC.
	ErrMalformedRecord = errors.New("warc: malformed record")
)
