package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/jsonjet/jsonjet/pkg/document"
)

// WriteFile is a sink appending one document per record to a file: JSON
// lines by default, msgpack framing when the path ends in ".msgpack".
type WriteFile struct {
	path    string
	file    *os.File
	binary  bool
	jsonEnc *json.Encoder
	mpEnc   *msgpack.Encoder
}

func NewWriteFile(path string) (*WriteFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("write_to_file: %w", err)
	}
	w := &WriteFile{path: path, file: f, binary: strings.HasSuffix(path, ".msgpack")}
	if w.binary {
		w.mpEnc = msgpack.NewEncoder(f)
	} else {
		w.jsonEnc = json.NewEncoder(f)
	}
	return w, nil
}

func (w *WriteFile) Push(_ context.Context, doc document.Document) error {
	var err error
	if w.binary {
		err = w.mpEnc.Encode(map[string]any(doc))
	} else {
		err = w.jsonEnc.Encode(doc)
	}
	if err != nil {
		return fmt.Errorf("write_to_file %s: %w", w.path, err)
	}
	return nil
}

func (w *WriteFile) Flush(context.Context) error {
	return w.file.Sync()
}

func (w *WriteFile) Finish(context.Context) error {
	return w.file.Close()
}

// AssertExpected is a test-harness sink. When the expectation file is
// missing it records the received documents there on finish; otherwise
// finish compares arrival order and structure against the file and reports
// the first mismatch.
type AssertExpected struct {
	path     string
	received []document.Document
}

func NewAssertExpected(path string) *AssertExpected {
	return &AssertExpected{path: path}
}

func (a *AssertExpected) Push(_ context.Context, doc document.Document) error {
	a.received = append(a.received, doc.Clone())
	return nil
}

func (a *AssertExpected) Flush(context.Context) error { return nil }

func (a *AssertExpected) Finish(context.Context) error {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return a.save()
	}
	if err != nil {
		return fmt.Errorf("assert_or_save_expected %s: %w", a.path, err)
	}
	var expected []document.Document
	if err := json.Unmarshal(data, &expected); err != nil {
		return fmt.Errorf("assert_or_save_expected %s: %w", a.path, err)
	}
	if len(expected) != len(a.received) {
		return fmt.Errorf("assert_or_save_expected %s: expected %d documents, received %d",
			a.path, len(expected), len(a.received))
	}
	for i := range expected {
		if !document.Equal(expected[i], a.received[i]) {
			return fmt.Errorf("assert_or_save_expected %s: document %d differs", a.path, i)
		}
	}
	return nil
}

func (a *AssertExpected) save() error {
	data, err := json.MarshalIndent(a.received, "", "  ")
	if err != nil {
		return fmt.Errorf("assert_or_save_expected %s: %w", a.path, err)
	}
	if err := os.WriteFile(a.path, data, 0o644); err != nil {
		return fmt.Errorf("assert_or_save_expected %s: %w", a.path, err)
	}
	return nil
}
