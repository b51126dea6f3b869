package ldapwire

import (
	"errors"
	"fmt"
	"io"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// ErrFrameTooLarge is returned by Reader.ReadMessage when a frame exceeds
// the configured maximum size.
var ErrFrameTooLarge = errors.New("ldapwire: frame exceeds maximum size")

// Reader decodes a stream of BER-framed LDAPMessages. A zero MaxSize means
// unbounded, matching the optional max_incoming_ber_size / max_proxy_ber_size
// knobs in the proxy configuration.
type Reader struct {
	r       io.Reader
	maxSize int64
}

// NewReader wraps r. maxSize of 0 disables the frame-size cap.
func NewReader(r io.Reader, maxSize int) *Reader {
	return &Reader{r: r, maxSize: int64(maxSize)}
}

// ReadMessage blocks for the next full LDAPMessage frame.
func (fr *Reader) ReadMessage() (Message, error) {
	r := fr.r
	if fr.maxSize > 0 {
		r = &limitedReader{r: fr.r, n: fr.maxSize}
	}

	packet, err := ber.ReadPacket(r)
	if err != nil {
		if fr.maxSize > 0 && errors.Is(err, errFrameLimitReached) {
			return Message{}, ErrFrameTooLarge
		}
		return Message{}, err
	}

	return Decode(packet)
}

// Writer encodes LDAPMessages onto the underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMessage serializes and transmits msg.
func (fw *Writer) WriteMessage(msg Message) error {
	_, err := fw.w.Write(Encode(msg))
	if err != nil {
		return fmt.Errorf("ldapwire: write: %w", err)
	}
	return nil
}

var errFrameLimitReached = errors.New("ldapwire: frame limit reached")

// limitedReader is like io.LimitedReader but returns errFrameLimitReached
// instead of io.EOF once the cap is hit, so callers can tell "frame too
// big" apart from "peer closed the connection".
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, errFrameLimitReached
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}
