package store

import (
	"encoding/binary"
	"math"

	"github.com/xhad/pdfchat/internal/models"
)

// similarity maps cosine similarity onto [0,1]. A zero vector scores 0.
func similarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01((dot/(math.Sqrt(na)*math.Sqrt(nb)) + 1) / 2)
}

func clamp01(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	case math.IsNaN(s):
		return 0
	}
	return s
}

// rank sorts hits best first and keeps at most topK.
func rank(hits []models.ScoredChunk, topK int) []models.ScoredChunk {
	models.SortScored(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
