package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyBatch is returned when a batch body carries no payloads at all,
// whether it is an empty array or has no non-blank lines.
var ErrEmptyBatch = errors.New("empty batch")

const maxLineSize = 16 << 20

// ReadBatch decodes a batch of raw event payloads. A body starting with '['
// is a JSON array whose elements are either strings holding the event JSON or
// the event objects themselves. Any other body is JSON Lines, one event per
// non-blank line.
func ReadBatch(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, ErrEmptyBatch
	}
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	if first == '[' {
		return readArray(br)
	}
	return readLines(br)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func readArray(r io.Reader) ([]string, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode batch array: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyBatch
	}
	payloads := make([]string, len(raw))
	for i, elem := range raw {
		if len(elem) > 0 && elem[0] == '"' {
			if err := json.Unmarshal(elem, &payloads[i]); err != nil {
				return nil, fmt.Errorf("decode batch element %d: %w", i, err)
			}
			continue
		}
		payloads[i] = string(elem)
	}
	return payloads, nil
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	var payloads []string
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		payloads = append(payloads, string(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read batch lines: %w", err)
	}
	if len(payloads) == 0 {
		return nil, ErrEmptyBatch
	}
	return payloads, nil
}
