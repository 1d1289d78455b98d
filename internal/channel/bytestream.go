package channel

import (
	"errors"
	"io"
)

// ByteWriter adapts a Sender[byte] to io.Writer (spec §4.2 "Byte-stream
// adapters"). The first byte of any Write always blocks-sends to
// guarantee forward progress; each remaining byte is sent only while the
// peer's send queue has room (TrySend), and Write returns a short count
// once it does not. Each of those sends still waits for the connection's
// writer to take the byte, so a Write can block after its first byte.
type ByteWriter struct {
	sender *Sender[byte]
}

// NewByteWriter wraps s as an io.Writer.
func NewByteWriter(s *Sender[byte]) *ByteWriter { return &ByteWriter{sender: s} }

func (w *ByteWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.sender.Send(p[0]); err != nil {
		return 0, err
	}
	n := 1
	for _, b := range p[1:] {
		if !w.sender.handle.TrySend() {
			return n, nil
		}
		if err := w.sender.Send(b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close closes the underlying Sender.
func (w *ByteWriter) Close() error { return w.sender.Close() }

// ByteReader adapts a Receiver[byte] to io.Reader, mapping ErrExited to
// io.EOF and ErrError to io.ErrUnexpectedEOF per spec §4.2.
type ByteReader struct {
	recv *Receiver[byte]
}

// NewByteReader wraps r as an io.Reader.
func NewByteReader(r *Receiver[byte]) *ByteReader { return &ByteReader{recv: r} }

func (r *ByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		b, err := r.recv.Recv()
		if err != nil {
			if errors.Is(err, ErrExited) {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
			if n > 0 {
				return n, nil
			}
			return 0, io.ErrUnexpectedEOF
		}
		p[n] = b
		n++
		if !hasMoreReady(r.recv) {
			break
		}
	}
	return n, nil
}

// hasMoreReady reports whether another byte is immediately available,
// letting Read fill its buffer without blocking once it has at least one
// byte, the usual io.Reader contract.
func hasMoreReady(r *Receiver[byte]) bool {
	_, ready, _ := r.handle.TryDequeueRecv()
	return ready
}

// Close closes the underlying Receiver.
func (r *ByteReader) Close() error { return r.recv.Close() }
