package nifti

import (
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"strings"

	knifti "github.com/KyungWonPark/nifti"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"mepmap/internal/models"
	"mepmap/pkg/errs"
)

// Image is a decoded NIfTI file. Volumes holds one entry per time point.
type Image struct {
	Header  Header
	Volumes []*models.Volume
}

// ReadVolume loads the first 3D volume of a NIfTI file.
func ReadVolume(path string) (*models.Volume, error) {
	img, err := Read(path)
	if err != nil {
		return nil, err
	}
	return img.Volumes[0], nil
}

// Read loads a 3D or 4D little-endian NIfTI-1 image. Files ending in .gz must
// be gzip compressed and other files must not be.
func Read(path string) (*Image, error) {
	if err := checkCompression(path); err != nil {
		return nil, err
	}

	var h Header
	if err := guard(path, func() { h.LoadHeader(path) }); err != nil {
		return nil, err
	}
	if err := validate(h); err != nil {
		return nil, errors.Wrap(err, path)
	}

	var src knifti.Nifti1Image
	if err := guard(path, func() { src.LoadImage(path, true) }); err != nil {
		return nil, err
	}

	width, height, depth := int(h.Dim[1]), dimOrOne(h, 2), dimOrOne(h, 3)
	frames := 1
	if h.Dim[0] >= 4 {
		frames = dimOrOne(h, 4)
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	scale := slope != 0 && !(slope == 1 && inter == 0)
	affine := Affine(h)

	img := &Image{Header: h}
	err := guard(path, func() {
		for t := 0; t < frames; t++ {
			v := models.NewVolume(width, height, depth)
			v.Affine = affine
			v.VoxelSize.X = float64(h.Pixdim[1])
			v.VoxelSize.Y = float64(h.Pixdim[2])
			v.VoxelSize.Z = float64(h.Pixdim[3])

			for i := range v.Data {
				x, y, z := v.Coords(i)
				value := fromLibrary(src.GetAt(uint32(x), uint32(y), uint32(z), uint32(t)), h.Datatype)
				if scale {
					value = value*slope + inter
				}
				v.Data[i] = value
			}
			img.Volumes = append(img.Volumes, v)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "truncated or unreadable voxel data")
	}
	return img, nil
}

func dimOrOne(h Header, i int) int {
	if int(h.Dim[0]) < i || h.Dim[i] < 1 {
		return 1
	}
	return int(h.Dim[i])
}

// guard turns the library's panics into errors.
func guard(path string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%s: %v", path, r)
		}
	}()
	fn()
	return nil
}

// checkCompression makes sure the file exists and its content matches the
// extension the library relies on to pick a reader.
func checkCompression(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	magic := make([]byte, 2)
	if _, err := io.ReadFull(f, magic); err != nil {
		return errors.Wrapf(err, "%s: file too short for a nifti-1 header", path)
	}
	gzipped := magic[0] == 0x1f && magic[1] == 0x8b
	named := filepath.Ext(path) == ".gz"
	switch {
	case gzipped && !named:
		return errs.ErrSchema.WithMessage("%s is gzip compressed but has no .gz extension", path)
	case named && !gzipped:
		return errs.ErrSchema.WithMessage("%s has a .gz extension but is not gzip compressed", path)
	}
	return nil
}

func validate(h Header) error {
	if h.SizeofHdr != headerSize {
		if bits.ReverseBytes32(uint32(h.SizeofHdr)) == headerSize {
			return errors.New("big-endian images are not supported")
		}
		return errors.New("invalid header size for nifti-1")
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return errors.Errorf("dim[0]=%d is not in range [1, 7]", h.Dim[0])
	}
	if h.Magic != singleFileMagic {
		return errors.New("invalid file magic, data must be stored in same file as header")
	}
	bpv := bytesPerVoxel(h.Datatype)
	if bpv == 0 {
		return errors.Errorf("unsupported nifti datatype %d", h.Datatype)
	}
	if int(h.Bitpix) != 8*bpv {
		return errors.Errorf("bitpix %d does not match datatype %d", h.Bitpix, h.Datatype)
	}
	return nil
}

// WriteVolume saves v as a float32 NIfTI-1 file, gzip compressed when path ends in .gz.
func WriteVolume(path string, v *models.Volume) error {
	return WriteSeries(path, []*models.Volume{v})
}

// WriteSeries saves vols as one 4D image (or 3D when there is a single volume).
// Every volume must share the first volume's grid.
func WriteSeries(path string, vols []*models.Volume) error {
	if len(vols) == 0 {
		return errors.Errorf("no volumes to write to %s", path)
	}
	ref := vols[0]
	for i, v := range vols[1:] {
		if !v.SameGrid(ref) {
			return errs.ErrAlignment.WithMessage("volume %d has shape %v, expected %v", i+1, v.Shape(), ref.Shape())
		}
	}

	img := knifti.NewImg(ref.Width, ref.Height, ref.Depth, len(vols))
	img.SetNewHeader(newHeader(img.GetHeader(), ref, len(vols)))
	for t, v := range vols {
		for i, value := range v.Data {
			x, y, z := v.Coords(i)
			img.SetAt(uint32(x), uint32(y), uint32(z), uint32(t), float32(value))
		}
	}
	return save(img, path)
}

// newHeader replaces the library's 2mm MNI defaults with ref's geometry.
func newHeader(h Header, ref *models.Volume, frames int) Header {
	h.Datatype = DTFloat32
	h.Bitpix = 32
	h.VoxOffset = minVoxOffset
	h.SclSlope, h.SclInter = 1, 0
	h.CalMax, h.CalMin = 0, 0
	h.XyztUnits = unitsMMSecond
	h.Magic = singleFileMagic

	h.Dim = [8]int16{3, int16(ref.Width), int16(ref.Height), int16(ref.Depth), 1, 1, 1, 1}
	if frames > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(frames)
	}
	h.Pixdim = [8]float32{1, float32(ref.VoxelSize.X), float32(ref.VoxelSize.Y), float32(ref.VoxelSize.Z), 1, 1, 1, 1}
	setAffine(&h, ref.Affine)

	h.Descrip = [80]byte{}
	copy(h.Descrip[:], "mepmap")
	return h
}

// save writes img to path. The library always gzips and appends .gz, so plain
// .nii files are staged next to path and inflated.
func save(img *knifti.Nifti1Image, path string) error {
	if strings.HasSuffix(path, ".gz") {
		if err := guard(path, func() { img.Save(strings.TrimSuffix(path, ".gz")) }); err != nil {
			return errors.Wrap(err, "failed to write image")
		}
		_, err := os.Stat(path)
		return errors.Wrap(err, "image was not written")
	}

	staged := path + ".tmp"
	if err := guard(path, func() { img.Save(staged) }); err != nil {
		return errors.Wrap(err, "failed to write image")
	}
	defer os.Remove(staged + ".gz")
	return inflate(staged+".gz", path)
}

func inflate(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "image was not written")
	}
	defer in.Close()

	zr, err := pgzip.NewReader(in)
	if err != nil {
		return errors.Wrapf(err, "failed to read staged image %s", src)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "failed to create image")
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return errors.Wrapf(err, "failed to write %s", dst)
	}
	return out.Close()
}
