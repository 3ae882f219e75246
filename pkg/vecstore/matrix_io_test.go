package vecstore

import (
	"bytes"
	"errors"
	"slices"
	"testing"
)

func TestMatrixRoundTrip(t *testing.T) {
	rows := [][]float32{
		{0.1, 0.2, 0.7},
		{1, 0, 0},
		{0, 0, 0},
	}
	var buf bytes.Buffer
	if err := WriteMatrix(&buf, rows); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 16+9*4 {
		t.Fatalf("encoded %d bytes, want %d", buf.Len(), 16+9*4)
	}
	got, err := ReadMatrix(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(rows) {
		t.Fatalf("rows = %d, want %d", len(got), len(rows))
	}
	for i := range rows {
		if !slices.Equal(got[i], rows[i]) {
			t.Fatalf("row %d = %v, want %v", i, got[i], rows[i])
		}
	}
}

func TestMatrixEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMatrix(&buf, nil); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMatrix(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d rows", len(got))
	}
}

func TestWriteMatrixMixedDims(t *testing.T) {
	err := WriteMatrix(&bytes.Buffer{}, [][]float32{{1, 2}, {1}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestReadMatrixRejects(t *testing.T) {
	var good bytes.Buffer
	WriteMatrix(&good, [][]float32{{1, 2}, {3, 4}})
	data := good.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("HNSW"), data[4:]...)},
		{"bad version", append(append([]byte{}, data[:4]...), append([]byte{9, 0, 0, 0}, data[8:]...)...)},
		{"truncated", data[:len(data)-3]},
		{"trailing", append(slices.Clone(data), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadMatrix(bytes.NewReader(tt.data)); !errors.Is(err, ErrBadMatrix) {
				t.Fatalf("err = %v, want ErrBadMatrix", err)
			}
		})
	}
}
