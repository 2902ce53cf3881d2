package lerc

import "github.com/pkg/errors"

// Every error returned by this package wraps exactly one of these; match
// them with errors.Is.
var (
	// ErrInvalidInput reports a malformed raster, mask or option set. It is
	// returned before any encoding work starts.
	ErrInvalidInput = errors.New("lerc: invalid input")

	// ErrCapacityExceeded reports that the output does not fit the buffer
	// supplied by the caller, or that a decoded raster would exceed the
	// Decoder's sample limit. Nothing is written; resize and retry.
	ErrCapacityExceeded = errors.New("lerc: capacity exceeded")

	// ErrTruncatedStream reports input shorter than the blob it declares.
	ErrTruncatedStream = errors.New("lerc: truncated stream")

	// ErrUnsupportedVersion reports an unknown magic, version or envelope method.
	ErrUnsupportedVersion = errors.New("lerc: unsupported version")

	// ErrCorruptBlock reports a checksum, length or content mismatch.
	ErrCorruptBlock = errors.New("lerc: corrupt block")

	// ErrCancelled reports that the context was cancelled between tiles.
	ErrCancelled = errors.New("lerc: cancelled")
)

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}

func corruptf(format string, args ...any) error {
	return errors.Wrapf(ErrCorruptBlock, format, args...)
}

func truncatedf(format string, args ...any) error {
	return errors.Wrapf(ErrTruncatedStream, format, args...)
}

func unsupportedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupportedVersion, format, args...)
}
