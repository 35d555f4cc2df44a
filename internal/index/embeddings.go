package index

import "math"

// Point2D is one chunk's embedding projected into 2D for visualization.
type Point2D struct {
	ID   string
	X, Y float64
	Path string
	Type string
}

// ProjectEmbeddings centers every embedding, finds the top two directions of
// variance via power iteration (deflating the first component before
// finding the second), projects each embedding onto them, and min-max
// normalizes each axis into [0, 1]. With fewer than two vectors there isn't
// enough data for PCA, so it falls back to the first two raw dimensions.
func ProjectEmbeddings(chunks []Chunk) []Point2D {
	n := len(chunks)
	if n == 0 {
		return nil
	}

	dim := 0
	for _, c := range chunks {
		if len(c.Embedding) > dim {
			dim = len(c.Embedding)
		}
	}
	if dim == 0 {
		return nil
	}

	vectors := make([][]float64, n)
	for i, c := range chunks {
		v := make([]float64, dim)
		for j, f := range c.Embedding {
			v[j] = float64(f)
		}
		vectors[i] = v
	}

	var points [][2]float64
	if n < 2 {
		points = fallbackFirstTwoDims(vectors)
	} else {
		centered := centerVectors(vectors, dim)
		pc1 := powerIteration(centered, dim)
		deflated := deflate(centered, pc1, dim)
		pc2 := powerIteration(deflated, dim)
		points = projectOnto(centered, pc1, pc2)
	}

	normalize(points)

	out := make([]Point2D, n)
	for i, c := range chunks {
		out[i] = Point2D{ID: c.ID, X: points[i][0], Y: points[i][1], Path: c.Metadata.Path, Type: c.Metadata.ChunkType}
	}
	return out
}

func fallbackFirstTwoDims(vectors [][]float64) [][2]float64 {
	points := make([][2]float64, len(vectors))
	for i, v := range vectors {
		var x, y float64
		if len(v) > 0 {
			x = v[0]
		}
		if len(v) > 1 {
			y = v[1]
		}
		points[i] = [2]float64{x, y}
	}
	return points
}

func centerVectors(vectors [][]float64, dim int) [][]float64 {
	mean := make([]float64, dim)
	for _, v := range vectors {
		for j := 0; j < dim; j++ {
			mean[j] += v[j]
		}
	}
	for j := range mean {
		mean[j] /= float64(len(vectors))
	}

	centered := make([][]float64, len(vectors))
	for i, v := range vectors {
		c := make([]float64, dim)
		for j := 0; j < dim; j++ {
			c[j] = v[j] - mean[j]
		}
		centered[i] = c
	}
	return centered
}

// powerIteration estimates the dominant eigenvector of the covariance matrix
// of rows without materializing the dim x dim matrix, by repeatedly
// multiplying by rows^T * rows.
func powerIteration(rows [][]float64, dim int) []float64 {
	vec := make([]float64, dim)
	for j := range vec {
		vec[j] = 1.0 / math.Sqrt(float64(dim))
	}

	for iter := 0; iter < 50; iter++ {
		// projections = rows * vec
		projections := make([]float64, len(rows))
		for i, row := range rows {
			var sum float64
			for j, x := range row {
				sum += x * vec[j]
			}
			projections[i] = sum
		}

		// next = rows^T * projections
		next := make([]float64, dim)
		for i, row := range rows {
			p := projections[i]
			for j, x := range row {
				next[j] += x * p
			}
		}

		norm := vectorNorm(next)
		if norm == 0 {
			return vec
		}
		for j := range next {
			next[j] /= norm
		}
		vec = next
	}
	return vec
}

func deflate(rows [][]float64, direction []float64, dim int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		var proj float64
		for j, x := range row {
			proj += x * direction[j]
		}
		d := make([]float64, dim)
		for j := range row {
			d[j] = row[j] - proj*direction[j]
		}
		out[i] = d
	}
	return out
}

func projectOnto(rows [][]float64, pc1, pc2 []float64) [][2]float64 {
	points := make([][2]float64, len(rows))
	for i, row := range rows {
		var x, y float64
		for j, v := range row {
			x += v * pc1[j]
			y += v * pc2[j]
		}
		points[i] = [2]float64{x, y}
	}
	return points
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func normalize(points [][2]float64) {
	if len(points) == 0 {
		return
	}
	minX, maxX := points[0][0], points[0][0]
	minY, maxY := points[0][1], points[0][1]
	for _, p := range points {
		minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
		minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
	}
	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	for i := range points {
		points[i][0] = (points[i][0] - minX) / rangeX
		points[i][1] = (points[i][1] - minY) / rangeY
	}
}
