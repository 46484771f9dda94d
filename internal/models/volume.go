package models

// Volume is a dense 3D scalar field sampled on the voxel grid of a reference
// anatomical image.
type Volume struct {
	// Data is the 3D volume data as a 1D array with x varying fastest:
	// index = z*Width*Height + y*Width + x (the NIfTI on-disk order)
	Data []float64

	// Width, Height, Depth are the voxel counts along x, y and z
	Width  int
	Height int
	Depth  int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine maps homogeneous voxel coordinates to physical (mm) coordinates
	Affine [4][4]float64
}

// IdentityAffine is the 4x4 identity transform.
var IdentityAffine = [4][4]float64{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
}

// NewVolume allocates a zeroed volume with 1mm voxels and an identity affine.
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
		Affine: IdentityAffine,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v
}

// NewVolumeLike allocates a zeroed volume sharing ref's shape, voxel size and affine.
func NewVolumeLike(ref *Volume) *Volume {
	return &Volume{
		Data:      make([]float64, len(ref.Data)),
		Width:     ref.Width,
		Height:    ref.Height,
		Depth:     ref.Depth,
		VoxelSize: ref.VoxelSize,
		Affine:    ref.Affine,
	}
}

// Clone returns a deep copy of v.
func (v *Volume) Clone() *Volume {
	c := NewVolumeLike(v)
	copy(c.Data, v.Data)
	return c
}

func (v *Volume) Shape() [3]int { return [3]int{v.Width, v.Height, v.Depth} }

func (v *Volume) Len() int { return len(v.Data) }

// SameGrid reports whether o has the same voxel grid shape as v.
func (v *Volume) SameGrid(o *Volume) bool {
	return v.Shape() == o.Shape()
}

func (v *Volume) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Coords is the inverse of Index.
func (v *Volume) Coords(idx int) (x, y, z int) {
	plane := v.Width * v.Height
	z = idx / plane
	rem := idx % plane
	y = rem / v.Width
	x = rem % v.Width
	return x, y, z
}

func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// CountNonZero returns the number of voxels whose value is not zero.
func (v *Volume) CountNonZero() int {
	n := 0
	for _, value := range v.Data {
		if value != 0 {
			n++
		}
	}
	return n
}
