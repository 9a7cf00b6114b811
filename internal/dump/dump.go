// Package dump implements the line-oriented text formats tndump and the
// client API use to inspect or exchange tensor buffers outside the
// engine process: a "dense" format (every coefficient, in row-major
// order) and a "list" format (only nonzero coefficients, index-prefixed),
// grounded on the original engine's plain-text tensor dump used for
// debugging small networks without a binary tool.
package dump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/exanet/tnengine/backend"
)

// Format names which of the two text encodings a dump file uses.
type Format string

const (
	Dense Format = "dense"
	List  Format = "list"
)

// WriteDense writes buf in row-major dense form: a header line
// "DENSE <shape dims...>" followed by one "real imag" line per element.
func WriteDense(w io.Writer, buf *backend.Buffer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "DENSE %s\n", joinShape(buf.Shape)); err != nil {
		return err
	}
	for _, v := range buf.Data {
		if _, err := fmt.Fprintf(bw, "%.17g %.17g\n", real(v), imag(v)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteList writes buf in sparse list form: a header line
// "LIST <shape dims...>" followed by one "idx0 idx1 ... real imag" line
// per nonzero coefficient, in row-major order.
func WriteList(w io.Writer, buf *backend.Buffer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "LIST %s\n", joinShape(buf.Shape)); err != nil {
		return err
	}
	idx := make([]uint64, len(buf.Shape))
	for flat, v := range buf.Data {
		if v == 0 {
			advanceIndex(idx, buf.Shape)
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s %.17g %.17g\n", joinIndex(idx), real(v), imag(v)); err != nil {
			return err
		}
		_ = flat
		advanceIndex(idx, buf.Shape)
	}
	return bw.Flush()
}

// Read parses either a DENSE or LIST header and dispatches to the
// matching reader.
func Read(r io.Reader) (*backend.Buffer, Format, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return nil, "", fmt.Errorf("dump: empty input: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return nil, "", fmt.Errorf("dump: malformed header %q", line)
	}
	shape, err := parseShape(fields[1:])
	if err != nil {
		return nil, "", err
	}
	switch strings.ToUpper(fields[0]) {
	case "DENSE":
		buf, err := readDenseBody(br, shape)
		return buf, Dense, err
	case "LIST":
		buf, err := readListBody(br, shape)
		return buf, List, err
	default:
		return nil, "", fmt.Errorf("dump: unknown format tag %q", fields[0])
	}
}

func readDenseBody(br *bufio.Reader, shape []uint64) (*backend.Buffer, error) {
	buf := backend.NewBuffer(shape)
	for i := range buf.Data {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("dump: dense body truncated at element %d: %w", i, err)
		}
		re, im, err := parseComplexFields(strings.Fields(line))
		if err != nil {
			return nil, err
		}
		buf.Data[i] = complex(re, im)
	}
	return buf, nil
}

func readListBody(br *bufio.Reader, shape []uint64) (*backend.Buffer, error) {
	buf := backend.NewBuffer(shape)
	for {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			if err == io.EOF {
				break
			}
			continue
		}
		if len(fields) != len(shape)+2 {
			return nil, fmt.Errorf("dump: list line has %d fields, want %d", len(fields), len(shape)+2)
		}
		idx := make([]uint64, len(shape))
		for d, f := range fields[:len(shape)] {
			v, perr := strconv.ParseUint(f, 10, 64)
			if perr != nil {
				return nil, fmt.Errorf("dump: bad index %q: %w", f, perr)
			}
			idx[d] = v
		}
		re, im, cerr := parseComplexFields(fields[len(shape):])
		if cerr != nil {
			return nil, cerr
		}
		flat, ferr := flatten(idx, shape)
		if ferr != nil {
			return nil, ferr
		}
		buf.Data[flat] = complex(re, im)
		if err == io.EOF {
			break
		}
	}
	return buf, nil
}

func parseComplexFields(fields []string) (float64, float64, error) {
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("dump: expected real+imag fields, got %v", fields)
	}
	re, err := strconv.ParseFloat(fields[len(fields)-2], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("dump: bad real component %q: %w", fields[len(fields)-2], err)
	}
	im, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("dump: bad imag component %q: %w", fields[len(fields)-1], err)
	}
	return re, im, nil
}

func joinShape(shape []uint64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatUint(d, 10)
	}
	return strings.Join(parts, " ")
}

func parseShape(fields []string) ([]uint64, error) {
	shape := make([]uint64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("dump: bad shape dimension %q: %w", f, err)
		}
		shape[i] = v
	}
	return shape, nil
}

func joinIndex(idx []uint64) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, " ")
}

// advanceIndex increments idx in row-major order according to shape.
func advanceIndex(idx []uint64, shape []uint64) {
	for d := len(shape) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < shape[d] {
			return
		}
		idx[d] = 0
	}
}

func flatten(idx []uint64, shape []uint64) (uint64, error) {
	var flat uint64
	for d, v := range idx {
		if v >= shape[d] {
			return 0, fmt.Errorf("dump: index %d out of range for dim %d (extent %d)", v, d, shape[d])
		}
		flat = flat*shape[d] + v
	}
	return flat, nil
}
