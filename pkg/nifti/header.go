// Package nifti reads and writes single-file NIfTI-1 images (.nii and .nii.gz)
// as models.Volume values.
//
// Byte-level decoding and encoding is done by github.com/KyungWonPark/nifti.
// This package adds what that library leaves out: datatype-aware value
// recovery, scl_slope scaling, the qform fallback for the affine, and
// error returns where the library prints or panics.
package nifti

import (
	"math"

	knifti "github.com/KyungWonPark/nifti"
)

// Header is the raw 348 byte nifti1 header.
type Header = knifti.Nifti1Header

const (
	headerSize    = 348
	minVoxOffset  = 352
	xformAligned  = 2
	unitsMMSecond = 2 | 8
)

// Datatype codes
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
	DTUint32  = 768
)

var singleFileMagic = [4]byte{'n', '+', '1', 0}

func bytesPerVoxel(datatype int16) int {
	switch datatype {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTFloat64:
		return 8
	}
	return 0
}

// fromLibrary undoes the library's datatype-blind conversion, which reads
// 2 byte voxels as unsigned and 4 byte voxels as float32 bits.
func fromLibrary(v float32, datatype int16) float64 {
	switch datatype {
	case DTInt8:
		return float64(int8(uint8(v)))
	case DTInt16:
		return float64(int16(uint16(v)))
	case DTInt32:
		return float64(int32(math.Float32bits(v)))
	case DTUint32:
		return float64(math.Float32bits(v))
	}
	return float64(v)
}

// Affine returns the voxel to mm transform: the sform when present, else the
// qform, else a diagonal built from the voxel sizes.
func Affine(h Header) [4][4]float64 {
	switch {
	case h.SformCode > 0:
		var a [4][4]float64
		for c := 0; c < 4; c++ {
			a[0][c] = float64(h.SrowX[c])
			a[1][c] = float64(h.SrowY[c])
			a[2][c] = float64(h.SrowZ[c])
		}
		a[3][3] = 1
		return a
	case h.QformCode > 0:
		return qformAffine(h)
	}
	return [4][4]float64{
		{float64(h.Pixdim[1]), 0, 0, 0},
		{0, float64(h.Pixdim[2]), 0, 0},
		{0, 0, float64(h.Pixdim[3]), 0},
		{0, 0, 0, 1},
	}
}

func qformAffine(h Header) [4][4]float64 {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// 180 degree rotation, renormalize b, c, d
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d = b/n, c/n, d/n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := float64(h.Pixdim[0])
	if qfac == 0 {
		qfac = 1
	}
	dx, dy, dz := float64(h.Pixdim[1]), float64(h.Pixdim[2]), qfac*float64(h.Pixdim[3])

	return [4][4]float64{
		{(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QoffsetX)},
		{2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QoffsetY)},
		{2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QoffsetZ)},
		{0, 0, 0, 1},
	}
}

// setAffine stores a as the sform and clears the qform the library presets.
func setAffine(h *Header, a [4][4]float64) {
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(a[0][c])
		h.SrowY[c] = float32(a[1][c])
		h.SrowZ[c] = float32(a[2][c])
	}
	h.SformCode = xformAligned
	h.QformCode = 0
	h.QuaternB, h.QuaternC, h.QuaternD = 0, 0, 0
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = 0, 0, 0
}
