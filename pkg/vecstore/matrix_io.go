package vecstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var matrixMagic = [4]byte{'D', 'M', 'F', '1'}

const matrixVersion uint32 = 1

// maxMatrixValues bounds what ReadMatrix will allocate from a header.
const maxMatrixValues = 1 << 30

// ErrBadMatrix is returned by ReadMatrix for truncated or foreign input.
var ErrBadMatrix = errors.New("vecstore: bad matrix file")

// WriteMatrix serializes rows, which must share one dimension.
//
// Format:
//
//	[4B magic "DMF1"] [4B version] [4B rows] [4B dim]
//	[rows × dim × 4B float32]
//
// All integers and floats are little-endian.
func WriteMatrix(w io.Writer, rows [][]float32) error {
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	if _, err := bw.Write(matrixMagic[:]); err != nil {
		return fmt.Errorf("vecstore: write magic: %w", err)
	}
	for _, v := range []uint32{matrixVersion, uint32(len(rows)), uint32(dim)} {
		if err := binary.Write(bw, le, v); err != nil {
			return fmt.Errorf("vecstore: write header: %w", err)
		}
	}
	for i, r := range rows {
		if len(r) != dim {
			return fmt.Errorf("vecstore: row %d: %w", i, dimError(len(r), dim))
		}
		if err := binary.Write(bw, le, r); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadMatrix decodes a matrix written by WriteMatrix.
func ReadMatrix(r io.Reader) ([][]float32, error) {
	br := bufio.NewReader(r)
	le := binary.LittleEndian

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: magic: %v", ErrBadMatrix, err)
	}
	if magic != matrixMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMatrix, magic[:])
	}
	var hdr [3]uint32
	if err := binary.Read(br, le, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadMatrix, err)
	}
	version, n, dim := hdr[0], int(hdr[1]), int(hdr[2])
	if version != matrixVersion {
		return nil, fmt.Errorf("%w: version %d (want %d)", ErrBadMatrix, version, matrixVersion)
	}
	if (n > 0 && dim == 0) || n*dim > maxMatrixValues {
		return nil, fmt.Errorf("%w: shape %dx%d", ErrBadMatrix, n, dim)
	}

	flat := make([]float32, n*dim)
	if err := binary.Read(br, le, flat); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrBadMatrix, err)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrBadMatrix)
	}
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return rows, nil
}
