package network

import (
	"fmt"
	"strings"
)

// FromSymbolic parses an expression of the form
// "OUT(a,b,...) = T1(i,a,j) * T2(j,b,...) * ..." into a TensorNetwork.
// shapes must map every tensor name appearing in the expression (including
// the output) to its shape. A trailing '+' immediately after a tensor
// name marks that input vertex conjugate. An index label that appears
// exactly twice across the whole expression (including the output side)
// connects those two legs, whether both are on inputs or one is on the
// output; a label that appears once is accepted only on the output, where
// it leaves that output leg unconnected.
func FromSymbolic(expr string, shapes map[string][]uint64) (*TensorNetwork, error) {
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("network: expression missing '='")
	}
	outName, outIdx, err := parseTerm(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("network: parsing output term: %w", err)
	}
	outShape, ok := shapes[outName]
	if !ok {
		return nil, fmt.Errorf("network: no shape given for output tensor %q", outName)
	}
	if len(outShape) != len(outIdx) {
		return nil, fmt.Errorf("network: output tensor %q has %d dims, expression gives %d indices", outName, len(outShape), len(outIdx))
	}

	n := New(outName, toUint64Shape(outShape))

	type occurrence struct {
		vertex int
		dim    int
	}
	occ := map[string][]occurrence{}
	for dim, lbl := range outIdx {
		occ[lbl] = append(occ[lbl], occurrence{vertex: OutputVertexID, dim: dim})
	}

	terms := strings.Split(parts[1], "*")
	for _, raw := range terms {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		conj := false
		name, idx, err := parseTerm(raw)
		if err != nil {
			return nil, fmt.Errorf("network: parsing term %q: %w", raw, err)
		}
		if strings.HasSuffix(name, "+") {
			conj = true
			name = strings.TrimSuffix(name, "+")
		}
		shape, ok := shapes[name]
		if !ok {
			return nil, fmt.Errorf("network: no shape given for tensor %q", name)
		}
		if len(shape) != len(idx) {
			return nil, fmt.Errorf("network: tensor %q has %d dims, expression gives %d indices", name, len(shape), len(idx))
		}
		vid := n.AppendTensor(name, toUint64Shape(shape))
		if conj {
			if err := n.SetConjugate(vid, true); err != nil {
				return nil, err
			}
		}
		for dim, lbl := range idx {
			occ[lbl] = append(occ[lbl], occurrence{vertex: vid, dim: dim})
		}
	}

	for lbl, os := range occ {
		switch len(os) {
		case 1:
			// Open leg matching nothing else: only valid if it's on the output.
			if os[0].vertex != OutputVertexID {
				return nil, fmt.Errorf("network: index %q appears once on a non-output tensor", lbl)
			}
		case 2:
			a, b := os[0], os[1]
			if err := n.Connect(a.vertex, a.dim, b.vertex, b.dim, Undirected); err != nil {
				return nil, fmt.Errorf("network: connecting index %q: %w", lbl, err)
			}
		default:
			return nil, fmt.Errorf("network: index %q appears %d times, expected 1 or 2", lbl, len(os))
		}
	}

	return n, nil
}

func toUint64Shape(s []uint64) []uint64 { return s }

// parseTerm splits "Name(a,b,c)" into ("Name", ["a","b","c"]).
func parseTerm(s string) (string, []string, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return "", nil, fmt.Errorf("expected NAME(idx,...) got %q", s)
	}
	name := strings.TrimSpace(s[:open])
	body := s[open+1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return name, nil, nil
	}
	fields := strings.Split(body, ",")
	idx := make([]string, len(fields))
	for i, f := range fields {
		idx[i] = strings.TrimSpace(f)
	}
	return name, idx, nil
}
