package toolkit

import (
	"context"

	"mepmap/internal/models"
	"mepmap/pkg/coords"
	"mepmap/pkg/errs"
	"mepmap/pkg/nifti"
)

// Fake performs every toolkit operation in process. Its skull strip keeps the
// whole image and its registration is the identity, which makes it suitable
// for tests and dry runs on images already in template space.
type Fake struct{}

var _ Toolkit = Fake{}

func (Fake) SkullStrip(ctx context.Context, input, outPrefix string) (StripResult, error) {
	if err := ctx.Err(); err != nil {
		return StripResult{}, err
	}
	res := stripPaths(outPrefix)

	t1, err := nifti.ReadVolume(input)
	if err != nil {
		return StripResult{}, err
	}
	mask := models.NewVolumeLike(t1)
	for i := range mask.Data {
		mask.Data[i] = 1
	}
	if err := nifti.WriteVolume(res.MaskPath, mask); err != nil {
		return StripResult{}, err
	}
	if err := nifti.WriteVolume(res.BrainPath, t1); err != nil {
		return StripResult{}, err
	}
	return res, checkOutput("skull strip", res.MaskPath, res.BrainPath)
}

func (Fake) Register(ctx context.Context, moving, reference, matrixOut string) (coords.Affine, error) {
	if err := ctx.Err(); err != nil {
		return coords.Affine{}, err
	}
	if err := coords.WriteMatrix(matrixOut, coords.Identity); err != nil {
		return coords.Affine{}, err
	}
	if err := checkOutput("register", matrixOut); err != nil {
		return coords.Affine{}, err
	}
	return coords.Identity, nil
}

// Warp treats the matrix as a world-to-world transform and samples source at
// the nearest voxel for every reference voxel.
func (Fake) Warp(ctx context.Context, source, matrixPath, reference, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := nifti.ReadVolume(source)
	if err != nil {
		return err
	}
	ref, err := nifti.ReadVolume(reference)
	if err != nil {
		return err
	}
	m, err := coords.ReadMatrix(matrixPath)
	if err != nil {
		return err
	}
	back, err := m.Inverse()
	if err != nil {
		return err
	}
	srcInv, err := coords.Affine(src.Affine).Inverse()
	if err != nil {
		return err
	}
	// reference voxel -> reference world -> source world -> source voxel
	toSource := srcInv.Mul(back).Mul(coords.Affine(ref.Affine))

	warped := models.NewVolumeLike(ref)
	for idx := range warped.Data {
		x, y, z := warped.Coords(idx)
		v := coords.RoundVoxel(toSource.ApplyVoxel([3]int{x, y, z}))
		if src.InBounds(v[0], v[1], v[2]) {
			warped.Data[idx] = src.At(v[0], v[1], v[2])
		}
	}
	if err := nifti.WriteVolume(out, warped); err != nil {
		return err
	}
	return checkOutput("warp", out)
}

func (Fake) ApplyMask(ctx context.Context, volume, mask, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := nifti.ReadVolume(volume)
	if err != nil {
		return err
	}
	m, err := nifti.ReadVolume(mask)
	if err != nil {
		return err
	}
	if !v.SameGrid(m) {
		return errs.ErrAlignment.WithMessage("mask shape %v does not match volume shape %v", m.Shape(), v.Shape())
	}
	for i, w := range m.Data {
		if w == 0 {
			v.Data[i] = 0
		}
	}
	if err := nifti.WriteVolume(out, v); err != nil {
		return err
	}
	return checkOutput("apply mask", out)
}
