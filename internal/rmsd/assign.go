package rmsd

import "math"

// Assign solves the assignment problem for an n×m cost matrix, returning
// for each row the column it is matched to and the total cost of the
// matching. When n > m the rows left over are matched to -1 and add
// nothing to the total; when n < m the extra columns stay unused.
//
// Kuhn–Munkres with row/column potentials on the matrix padded to square
// with zero-cost dummies, O(max(n, m)³). Rows must all have the same
// length.
func Assign(cost [][]float64) ([]int, float64) {
	rows := len(cost)
	if rows == 0 {
		return nil, 0
	}
	cols := len(cost[0])
	n := max(rows, cols)
	at := func(i, j int) float64 {
		if i < rows && j < cols {
			return cost[i][j]
		}
		return 0
	}
	const inf = math.MaxFloat64 / 2

	// 1-indexed; column 0 is the virtual start of each augmenting path.
	rowPot := make([]float64, n+1)
	colPot := make([]float64, n+1)
	owner := make([]int, n+1) // owner[j] = row matched to column j
	prev := make([]int, n+1)
	slack := make([]float64, n+1)
	seen := make([]bool, n+1)

	for row := 1; row <= n; row++ {
		owner[0] = row
		col := 0
		for j := 1; j <= n; j++ {
			slack[j] = inf
			seen[j] = false
		}
		for {
			seen[col] = true
			r := owner[col]
			delta, next := inf, -1
			for j := 1; j <= n; j++ {
				if seen[j] {
					continue
				}
				if reduced := at(r-1, j-1) - rowPot[r] - colPot[j]; reduced < slack[j] {
					slack[j] = reduced
					prev[j] = col
				}
				if slack[j] < delta {
					delta, next = slack[j], j
				}
			}
			if next < 0 {
				break
			}
			for j := 0; j <= n; j++ {
				if seen[j] {
					rowPot[owner[j]] += delta
					colPot[j] -= delta
				} else {
					slack[j] -= delta
				}
			}
			col = next
			if owner[col] == 0 {
				break
			}
		}
		for col != 0 {
			owner[col] = owner[prev[col]]
			col = prev[col]
		}
	}

	match := make([]int, rows)
	total := 0.0
	for j := 1; j <= n; j++ {
		r := owner[j] - 1
		if r >= rows {
			continue
		}
		if j > cols {
			match[r] = -1
			continue
		}
		match[r] = j - 1
		total += cost[r][j-1]
	}
	return match, total
}
