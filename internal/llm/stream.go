package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrTruncatedStream is returned when the body ends before a finish reason or
// the [DONE] marker; partial output must not be cached.
var ErrTruncatedStream = errors.New("stream ended before completion")

// maxLineSize bounds a single SSE line; long pages produce large deltas.
const maxLineSize = 1 << 20

// StreamParser handles parsing of Server-Sent Events (SSE) streams
type StreamParser struct {
	scanner *bufio.Scanner
}

// NewStreamParser creates a new stream parser
func NewStreamParser(reader io.Reader) *StreamParser {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamParser{scanner: scanner}
}

// StreamChunk represents a single chunk from the stream
type StreamChunk struct {
	Content      string
	FinishReason string
	Done         bool
	Truncated    bool
}

// Next reads the next chunk from the stream
func (p *StreamParser) Next() (*StreamChunk, error) {
	for p.scanner.Scan() {
		line := p.scanner.Text()

		// comments (": OPENROUTER PROCESSING") and blank separators
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return &StreamChunk{Done: true}, nil
		}

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}

		if resp.Error != nil {
			return nil, fmt.Errorf("upstream error %v: %s", resp.Error.Code, resp.Error.Message)
		}

		if len(resp.Choices) > 0 {
			choice := resp.Choices[0]
			content := choice.Delta.Content
			if content == "" {
				content = choice.Message.Content
			}
			return &StreamChunk{
				Content:      content,
				FinishReason: choice.FinishReason,
				Done:         choice.FinishReason != "",
			}, nil
		}
	}

	if err := p.scanner.Err(); err != nil {
		return nil, err
	}

	return &StreamChunk{Done: true, Truncated: true}, nil
}

// ParseAll reads every chunk and hands non-empty content to emit in order.
func (p *StreamParser) ParseAll(emit func(string)) (finishReason string, err error) {
	for {
		chunk, err := p.Next()
		if err != nil {
			return "", err
		}

		if chunk.Content != "" {
			emit(chunk.Content)
		}

		if chunk.Done {
			if chunk.Truncated {
				return "", ErrTruncatedStream
			}
			return chunk.FinishReason, nil
		}
	}
}
