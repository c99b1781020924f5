package stream

import (
	"bufio"
	"encoding/json"
	"io"
)

// Encoder 一行一个 JSON 事件，每写一条即 flush。
// Encoder writes one JSON event per line, flushing after every event so the
// client sees each one as soon as it is produced.
type Encoder struct {
	w     io.Writer
	flush func()
}

type flusher interface {
	Flush()
}

func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(flusher); ok {
		e.flush = f.Flush
	}
	return e
}

func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if e.flush != nil {
		e.flush()
	}
	return nil
}

// Decoder 按行解析事件流；坏行跳过，半行缓冲到下一个换行。
// Decoder reads the NDJSON event stream line by line. Malformed lines are
// skipped without aborting, and a trailing partial line is buffered until its
// newline arrives; the protocol is best-effort self-healing against chunk
// boundaries.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next 返回下一个合法事件；流结束返回 io.EOF。
// Next returns the next well-formed event, or io.EOF when the stream ends.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// 收尾的半行按协议丢弃 / a trailing partial line is dropped
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		var ev Event
		if jsonErr := json.Unmarshal(line, &ev); jsonErr != nil || ev.Type == "" {
			continue
		}
		return ev, nil
	}
}
