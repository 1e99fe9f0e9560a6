package dataset

import "math/rand"

// Image is a float CHW image.
type Image struct {
	C, H, W int
	Pix     []float32
}

// ToImage converts raw CHW bytes to an Image scaled into [0, 1].
func ToImage(raw []uint8, c, h, w int) Image {
	pix := make([]float32, len(raw))
	for i, v := range raw {
		pix[i] = float32(v) / 255
	}
	return Image{C: c, H: h, W: w, Pix: pix}
}

// Transform is one augmentation stage. Implementations may reuse the
// input's pixel buffer.
type Transform interface {
	Apply(img Image, rng *rand.Rand) Image
}

// Compose applies transforms in order.
type Compose []Transform

// Apply implements Transform.
func (c Compose) Apply(img Image, rng *rand.Rand) Image {
	for _, t := range c {
		img = t.Apply(img, rng)
	}
	return img
}

// RandomCrop zero-pads each border by Padding and takes a random
// Size x Size window.
type RandomCrop struct {
	Size    int
	Padding int
}

// Apply implements Transform. A window larger than the padded image is
// anchored at the padded origin and filled with zeros past the edge.
func (t RandomCrop) Apply(img Image, rng *rand.Rand) Image {
	top := rng.Intn(cropRange(img.H, t.Padding, t.Size))
	left := rng.Intn(cropRange(img.W, t.Padding, t.Size))
	return crop(img, top-t.Padding, left-t.Padding, t.Size)
}

func cropRange(extent, padding, size int) int {
	return max(extent+2*padding-size+1, 1)
}

// crop copies a size x size window whose origin (y0, x0) may lie outside
// the image; uncovered pixels are zero.
func crop(img Image, y0, x0, size int) Image {
	out := Image{C: img.C, H: size, W: size, Pix: make([]float32, img.C*size*size)}
	for c := 0; c < img.C; c++ {
		src := img.Pix[c*img.H*img.W : (c+1)*img.H*img.W]
		dst := out.Pix[c*size*size : (c+1)*size*size]
		for y := 0; y < size; y++ {
			sy := y0 + y
			if sy < 0 || sy >= img.H {
				continue
			}
			for x := 0; x < size; x++ {
				sx := x0 + x
				if sx < 0 || sx >= img.W {
					continue
				}
				dst[y*size+x] = src[sy*img.W+sx]
			}
		}
	}
	return out
}

// RandomHorizontalFlip mirrors the image left-to-right with probability P.
type RandomHorizontalFlip struct {
	P float64
}

// Apply implements Transform.
func (t RandomHorizontalFlip) Apply(img Image, rng *rand.Rand) Image {
	if rng.Float64() >= t.P {
		return img
	}
	return flip(img)
}

func flip(img Image) Image {
	for row := 0; row < img.C*img.H; row++ {
		line := img.Pix[row*img.W : (row+1)*img.W]
		for i, j := 0, len(line)-1; i < j; i, j = i+1, j-1 {
			line[i], line[j] = line[j], line[i]
		}
	}
	return img
}

// Normalize standardises each channel with the given mean and std.
type Normalize struct {
	Mean []float32
	Std  []float32
}

// Apply implements Transform.
func (t Normalize) Apply(img Image, _ *rand.Rand) Image {
	plane := img.H * img.W
	for c := 0; c < img.C; c++ {
		mean, std := t.Mean[c], t.Std[c]
		for i := c * plane; i < (c+1)*plane; i++ {
			img.Pix[i] = (img.Pix[i] - mean) / std
		}
	}
	return img
}

// TrainTransforms is the augmentation used for the CIFAR-10 training split.
func TrainTransforms() Transform {
	return Compose{
		RandomCrop{Size: ImageSize, Padding: 4},
		RandomHorizontalFlip{P: 0.5},
		Normalize{Mean: CIFARMean, Std: CIFARStd},
	}
}

// EvalTransforms is the deterministic pipeline for the test split.
func EvalTransforms() Transform {
	return Normalize{Mean: CIFARMean, Std: CIFARStd}
}
