// Package writer encodes report data as JSON, optionally compressed.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sizemap/pkg/compression"
)

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
	// Compression is applied to the encoded bytes. The zero value means none.
	Compression compression.Type
	Level       compression.Level
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// NewCompressedJSONWriter creates a compact JSON writer that compresses
// its output with t.
func NewCompressedJSONWriter[T any](t compression.Type, level compression.Level) *JSONWriter[T] {
	return &JSONWriter[T]{Compression: t, Level: level}
}

// Extension returns the file suffix matching the writer's output.
func (w *JSONWriter[T]) Extension() string {
	return ".json" + w.Compression.Extension()
}

// Write writes the data to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	_, err := w.write(data, writer)
	return err
}

// write encodes data into writer and returns the uncompressed JSON size.
func (w *JSONWriter[T]) write(data T, writer io.Writer) (int64, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	if err := encoder.Encode(data); err != nil {
		return 0, fmt.Errorf("failed to encode data: %w", err)
	}

	cw, err := compression.NewWriter(writer, w.Compression, w.Level)
	if err != nil {
		return 0, err
	}
	if _, err := cw.Write(buf.Bytes()); err != nil {
		cw.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush data: %w", err)
	}
	return int64(buf.Len()), nil
}

// WriteResult contains statistics about the written file.
type WriteResult struct {
	Path           string
	JSONSize       int64
	CompressedSize int64
	CompressionPct float64
}

// WriteToFile writes the data to a file and returns statistics about the
// output.
func (w *JSONWriter[T]) WriteToFile(data T, filepath string) (*WriteResult, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	jsonSize, err := w.write(data, file)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	result := &WriteResult{Path: filepath, JSONSize: jsonSize, CompressedSize: info.Size()}
	if jsonSize > 0 {
		result.CompressionPct = float64(result.CompressedSize) / float64(jsonSize) * 100
	}
	return result, file.Close()
}
