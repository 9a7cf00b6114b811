package backend

import (
	"math"
	"math/cmplx"
)

// No linear-algebra dependency (gonum/lapack/blas or similar) appears
// anywhere in this stack's example pool, so the decomposition kernels
// below are hand-written: a one-sided complex Jacobi SVD (Rutishauser's
// method, the classical textbook approach for a dense SVD without a BLAS
// dependency) and a Modified Gram-Schmidt orthogonalization. Both operate
// on a row-major rows x cols matrix, matching executeContract's existing
// convention that the backend works on flat pre-arranged operand data
// rather than performing its own index permutation.

// jacobiSVD computes the singular value decomposition of the rows x cols
// matrix a (row-major) via one-sided Jacobi rotations applied to a's
// columns until they are numerically orthogonal, returning u (rows x k),
// singular values s (length k, descending), and vt (k x cols, i.e. V^H),
// where k = min(rows, cols).
func jacobiSVD(rows, cols int, a []complex128) (u []complex128, s []float64, vt []complex128) {
	// Work on a mutable copy; its columns become u's columns (times their
	// singular value) after convergence.
	work := append([]complex128(nil), a...)
	// v accumulates the product of Jacobi rotations, column-major applied
	// as cols x cols, so that work_final = a * v.
	v := make([]complex128, cols*cols)
	for i := 0; i < cols; i++ {
		v[i*cols+i] = 1
	}

	col := func(m []complex128, stride, j, n int) []complex128 {
		out := make([]complex128, n)
		for i := 0; i < n; i++ {
			out[i] = m[i*stride+j]
		}
		return out
	}
	setCol := func(m []complex128, stride, j, n int, val []complex128) {
		for i := 0; i < n; i++ {
			m[i*stride+j] = val[i]
		}
	}
	dot := func(x, y []complex128) complex128 {
		var s complex128
		for i := range x {
			s += cmplx.Conj(x[i]) * y[i]
		}
		return s
	}

	const maxSweeps = 60
	for sweep := 0; sweep < maxSweeps; sweep++ {
		offDiag := 0.0
		for p := 0; p < cols-1; p++ {
			for q := p + 1; q < cols; q++ {
				cp := col(work, cols, p, rows)
				cq := col(work, cols, q, rows)
				app := real(dot(cp, cp))
				aqq := real(dot(cq, cq))
				apq := dot(cp, cq)
				mag := cmplx.Abs(apq)
				offDiag += mag * mag
				if mag < 1e-14 {
					continue
				}
				// Jacobi rotation angle for the 2x2 subproblem
				// [[app, apq],[conj(apq), aqq]], rendered real by
				// factoring the phase of apq into the rotation.
				phase := apq / complex(mag, 0)
				tau := (aqq - app) / (2 * mag)
				t := math.Copysign(1, tau) / (math.Abs(tau) + math.Sqrt(1+tau*tau))
				c := 1 / math.Sqrt(1+t*t)
				sn := t * c

				for i := 0; i < rows; i++ {
					pi, qi := cp[i], cq[i]
					cp[i] = complex(c, 0)*pi - complex(sn, 0)*phase*qi
					cq[i] = complex(sn, 0)*cmplx.Conj(phase)*pi + complex(c, 0)*qi
				}
				setCol(work, cols, p, rows, cp)
				setCol(work, cols, q, rows, cq)

				vp := col(v, cols, p, cols)
				vq := col(v, cols, q, cols)
				for i := 0; i < cols; i++ {
					pi, qi := vp[i], vq[i]
					vp[i] = complex(c, 0)*pi - complex(sn, 0)*phase*qi
					vq[i] = complex(sn, 0)*cmplx.Conj(phase)*pi + complex(c, 0)*qi
				}
				setCol(v, cols, p, cols, vp)
				setCol(v, cols, q, cols, vq)
			}
		}
		if offDiag < 1e-24 {
			break
		}
	}

	k := rows
	if cols < k {
		k = cols
	}
	sv := make([]float64, cols)
	for j := 0; j < cols; j++ {
		cj := col(work, cols, j, rows)
		sv[j] = math.Sqrt(real(dot(cj, cj)))
	}
	order := make([]int, cols)
	for i := range order {
		order[i] = i
	}
	for i := 1; i < cols; i++ {
		for j := i; j > 0 && sv[order[j]] > sv[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	u = make([]complex128, rows*k)
	s = make([]float64, k)
	vt = make([]complex128, k*cols)
	for outJ := 0; outJ < k; outJ++ {
		j := order[outJ]
		s[outJ] = sv[j]
		cj := col(work, cols, j, rows)
		for i := 0; i < rows; i++ {
			if s[outJ] > 1e-300 {
				u[i*k+outJ] = cj[i] / complex(s[outJ], 0)
			}
		}
		vj := col(v, cols, j, cols)
		for i := 0; i < cols; i++ {
			vt[outJ*cols+i] = cmplx.Conj(vj[i])
		}
	}
	return u, s, vt
}

// modifiedGramSchmidt orthogonalizes the columns of the rows x cols
// matrix a (row-major), returning q (rows x cols, orthonormal columns)
// and r (cols x cols, upper triangular) such that a = q * r.
func modifiedGramSchmidt(rows, cols int, a []complex128) (q, r []complex128) {
	q = append([]complex128(nil), a...)
	r = make([]complex128, cols*cols)

	getCol := func(m []complex128, j, n int) []complex128 {
		out := make([]complex128, n)
		for i := 0; i < n; i++ {
			out[i] = m[i*cols+j]
		}
		return out
	}
	setCol := func(m []complex128, j, n int, v []complex128) {
		for i := 0; i < n; i++ {
			m[i*cols+j] = v[i]
		}
	}

	for j := 0; j < cols; j++ {
		v := getCol(q, j, rows)
		for i := 0; i < j; i++ {
			qi := getCol(q, i, rows)
			var proj complex128
			for k := range v {
				proj += cmplx.Conj(qi[k]) * v[k]
			}
			r[i*cols+j] = proj
			for k := range v {
				v[k] -= proj * qi[k]
			}
		}
		var norm float64
		for _, x := range v {
			norm += real(x * cmplx.Conj(x))
		}
		norm = math.Sqrt(norm)
		r[j*cols+j] = complex(norm, 0)
		if norm > 1e-300 {
			for k := range v {
				v[k] /= complex(norm, 0)
			}
		}
		setCol(q, j, rows, v)
	}
	return q, r
}
