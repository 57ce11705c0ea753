package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/yndnr/kvmirror/internal/core/domain"
)

// MaxMessageSize bounds a single encoded message, newline excluded.
const MaxMessageSize = 16 << 20 // 16MB

// ErrMessageTooLarge is returned by Marshal when a message exceeds
// MaxMessageSize.
var ErrMessageTooLarge = errors.New("protocol: message too large")

// Encoder writes messages as newline-delimited JSON.
// It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m followed by a newline in a single Write call.
func (e *Encoder) Encode(m *Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decoder reads newline-delimited JSON messages.
type Decoder struct {
	r   *bufio.Reader
	max int
	buf []byte
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10), max: MaxMessageSize}
}

// Decode reads the next message.
//
// A line that is not a valid message, including one longer than
// MaxMessageSize, yields an ErrMalformedMessage error; the stream stays
// usable and the next call reads the following line. io.EOF is returned at
// the end of the stream.
func (d *Decoder) Decode() (*Message, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return Unmarshal(line)
	}
}

// readLine returns the next line. An oversized line is discarded up to its
// newline without being buffered.
func (d *Decoder) readLine() ([]byte, error) {
	d.buf = d.buf[:0]
	oversized := false

	for {
		chunk, err := d.r.ReadSlice('\n')
		if !oversized {
			n := len(d.buf) + len(chunk)
			if err == nil {
				n-- // newline
			}
			if n > d.max {
				oversized = true
				d.buf = d.buf[:0]
			} else {
				d.buf = append(d.buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if oversized {
				return nil, d.tooLarge()
			}
			return d.buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if oversized {
				return nil, d.tooLarge()
			}
			if len(d.buf) > 0 {
				return d.buf, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

func (d *Decoder) tooLarge() error {
	return domain.ErrMalformedMessage.WithDetails(fmt.Sprintf("message exceeds %d bytes", d.max))
}

// Marshal encodes m as one line, newline included.
func Marshal(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes one message.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.ErrMalformedMessage.WithDetails(err.Error()).WithCause(err)
	}
	return &m, nil
}
