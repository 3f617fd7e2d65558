package trainer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/gan"
	"cgan-forge/internal/nn"
)

// previewHook writes one generated sample per class, side by side, after
// every epoch. The latent vectors are fixed for the run so successive grids
// show how the generator evolves.
func previewHook(dir string, imageShape []int, z *mat.Dense) gan.EpochHook {
	return func(_ context.Context, t *gan.Trainer, epoch int) error {
		c := t.Components()
		classes := c.Conditioner.Classes()
		labels := make([]int, classes)
		for i := range labels {
			labels[i] = i
		}
		cond, err := c.Conditioner.ConditionBatch(labels)
		if err != nil {
			return err
		}
		fake, err := c.Generator.Forward(nn.Constant(z), cond)
		if err != nil {
			return errors.Wrap(err, "preview forward")
		}
		img := grid(fake.Value, imageShape)

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create sample dir")
		}
		path := filepath.Join(dir, fmt.Sprintf("epoch-%06d.png", epoch))
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "create preview")
		}
		defer f.Close()
		if err := png.Encode(f, img); err != nil {
			return errors.Wrap(err, "encode preview")
		}
		log.Printf("preview epoch=%d path=%s", epoch, path)
		return nil
	}
}

// grid lays the rows of samples out horizontally. Samples are [C, H, W] in
// [-1, 1]; three channels render as RGB, anything else as the first channel
// in grey.
func grid(samples *mat.Dense, imageShape []int) image.Image {
	channels, height, width := 1, 1, imageShape[len(imageShape)-1]
	if len(imageShape) >= 2 {
		height = imageShape[len(imageShape)-2]
	}
	if len(imageShape) >= 3 {
		channels = imageShape[0]
	}
	n, _ := samples.Dims()
	img := image.NewRGBA(image.Rect(0, 0, n*width, height))
	plane := height * width
	for s := 0; s < n; s++ {
		row := samples.RawRowView(s)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				px := y*width + x
				var c color.RGBA
				if channels == 3 {
					c = color.RGBA{R: toByte(row[px]), G: toByte(row[plane+px]), B: toByte(row[2*plane+px]), A: 255}
				} else {
					v := toByte(row[px])
					c = color.RGBA{R: v, G: v, B: v, A: 255}
				}
				img.SetRGBA(s*width+x, y, c)
			}
		}
	}
	return img
}

func toByte(v float64) uint8 {
	v = (v + 1) * 127.5
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
