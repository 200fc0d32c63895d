package bridge

import (
	"encoding/json"
	"fmt"
	"io"

	"pwmlight-go/bus"
)

// -----------------------------------------------------------------------------
// Framing: type byte, big-endian u16 length, payload
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameClose byte = 0x7f
)

// Frame is a very simple length-prefixed frame.
type Frame struct {
	Type    byte
	Payload []byte
}

type framedReader struct{ r io.Reader }
type framedWriter struct{ w io.Writer }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

// WriteFrame sends header and payload in one write so a frame is never split
// between concurrent writers on the same port.
func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	buf := make([]byte, 3+len(f.Payload))
	buf[0] = f.Type
	buf[1] = byte(len(f.Payload) >> 8)
	buf[2] = byte(len(f.Payload))
	copy(buf[3:], f.Payload)
	_, err := fw.w.Write(buf)
	return err
}

// -----------------------------------------------------------------------------
// Publish frames carry JSON
// -----------------------------------------------------------------------------

type pubFrame struct {
	Topic    []string        `json:"topic"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Retained bool            `json:"retained,omitempty"`
}

func encodePub(msg *bus.Message) (Frame, error) {
	pf := pubFrame{Topic: make([]string, 0, msg.Topic.Len()), Retained: msg.Retained}
	for _, tok := range msg.Topic {
		pf.Topic = append(pf.Topic, fmt.Sprint(tok))
	}
	if msg.Payload != nil {
		b, err := json.Marshal(msg.Payload)
		if err != nil {
			return Frame{}, err
		}
		pf.Payload = b
	}
	b, err := json.Marshal(pf)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: framePub, Payload: b}, nil
}

func decodePub(b []byte) (pubFrame, error) {
	var pf pubFrame
	if err := json.Unmarshal(b, &pf); err != nil {
		return pf, err
	}
	if len(pf.Topic) == 0 {
		return pf, fmt.Errorf("pub frame without topic")
	}
	return pf, nil
}
