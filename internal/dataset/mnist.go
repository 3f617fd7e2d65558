package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049

	mnistTrainImages = "train-images-idx3-ubyte"
	mnistTrainLabels = "train-labels-idx1-ubyte"

	// maxIDXBytes bounds the pixel buffer a header may ask for.
	maxIDXBytes = 1 << 30
)

// MNISTShape is the per-image shape of MNIST digits.
var MNISTShape = []int{1, 28, 28}

// LoadMNIST reads the MNIST training split from dir. Both the raw IDX files
// and their .gz variants are accepted. Pixels are scaled to [-1, 1].
func LoadMNIST(dir string) (*TensorDataset, error) {
	pixels, rows, cols, err := readIDXImages(filepath.Join(dir, mnistTrainImages))
	if err != nil {
		return nil, err
	}
	labels, err := readIDXLabels(filepath.Join(dir, mnistTrainLabels))
	if err != nil {
		return nil, err
	}
	data := make([]float64, len(pixels))
	for i, p := range pixels {
		data[i] = float64(p)/127.5 - 1
	}
	n := len(pixels) / (rows * cols)
	if n == 0 {
		return nil, errors.Errorf("mnist: no images in %s", dir)
	}
	images := tensor.New(tensor.WithBacking(data), tensor.WithShape(n, 1, rows, cols))
	return NewTensorDataset(images, labels)
}

func openIDX(path string) (io.ReadCloser, error) {
	if f, err := os.Open(path); err == nil {
		return f, nil
	}
	f, err := os.Open(path + ".gz")
	if err != nil {
		return nil, errors.Wrapf(err, "mnist: open %s[.gz]", path)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "mnist: gunzip %s", f.Name())
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.file.Close()
}

func readIDXImages(path string) ([]byte, int, int, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, errors.Wrap(err, "mnist: read image header")
	}
	if header[0] != idxImagesMagic {
		return nil, 0, 0, errors.Errorf("mnist: bad image magic %d", header[0])
	}
	n, rows, cols := int(header[1]), int(header[2]), int(header[3])
	if rows <= 0 || cols <= 0 || rows > maxIDXBytes || cols > maxIDXBytes {
		return nil, 0, 0, errors.Errorf("mnist: bad image size %dx%d", rows, cols)
	}
	if n > maxIDXBytes/(rows*cols) {
		return nil, 0, 0, errors.Errorf("mnist: %d images of %dx%d exceed %d bytes", n, rows, cols, maxIDXBytes)
	}
	pixels := make([]byte, n*rows*cols)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, 0, 0, errors.Wrap(err, "mnist: read pixels")
	}
	return pixels, rows, cols, nil
}

func readIDXLabels(path string) ([]int, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "mnist: read label header")
	}
	if header[0] != idxLabelsMagic {
		return nil, errors.Errorf("mnist: bad label magic %d", header[0])
	}
	if header[1] > maxIDXBytes {
		return nil, errors.Errorf("mnist: %d labels exceed %d bytes", header[1], maxIDXBytes)
	}
	raw := make([]byte, header[1])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "mnist: read labels")
	}
	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}
