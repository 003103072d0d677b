// Package cifar loads the CIFAR-10 dataset in its binary distribution format
// and serves it as batches of GoMLX tensors ready for training.
//
// Images are stored normalized to [-1, 1], channels-last ([32, 32, 3]), which
// is the default layout GoMLX convolutions expect.
package cifar

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Width, Height and Channels of every CIFAR-10 image.
	Width    = 32
	Height   = 32
	Channels = 3

	// NumClasses in CIFAR-10.
	NumClasses = 10

	// ImageSize is the number of float32 values per image.
	ImageSize = Width * Height * Channels

	// bytesPerRecord in the binary files: 1 label byte + 3072 pixel bytes.
	bytesPerRecord = 1 + ImageSize
)

// ClassNames of the 10 CIFAR-10 classes, indexed by label.
var ClassNames = []string{
	"plane", "car", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// trainFiles and testFile within the untarred "cifar-10-batches-bin" directory.
var trainFiles = []string{
	"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
	"data_batch_4.bin", "data_batch_5.bin",
}

const testFile = "test_batch.bin"

// Dataset holds a fully decoded split of CIFAR-10 in memory.
//
// 60k images at 3072 float32 each is ~700MB for both splits together, well
// within reach of keeping everything resident, so there is no lazy loading.
type Dataset struct {
	name   string
	images []float32 // Flattened [numExamples, Height, Width, Channels].
	labels []int32
}

// Name of the split ("train" or "test").
func (ds *Dataset) Name() string { return ds.name }

// Len returns the number of examples in the split.
func (ds *Dataset) Len() int { return len(ds.labels) }

// Example returns the image (normalized, channels-last, ImageSize values) and
// label of example i. The returned slice aliases the dataset, don't modify it.
func (ds *Dataset) Example(i int) (image []float32, label int32) {
	return ds.images[i*ImageSize : (i+1)*ImageSize], ds.labels[i]
}

// LoadTrain loads the 5 training batch files (50000 examples) from baseDir.
func LoadTrain(baseDir string) (*Dataset, error) {
	return load(baseDir, "train", trainFiles)
}

// LoadTest loads the test batch file (10000 examples) from baseDir.
func LoadTest(baseDir string) (*Dataset, error) {
	return load(baseDir, "test", []string{testFile})
}

func load(baseDir, name string, files []string) (*Dataset, error) {
	ds := &Dataset{name: name}
	for _, file := range files {
		path := filepath.Join(untarDir(baseDir), file)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read CIFAR-10 batch file %s (did you download it? see -download)", path)
		}
		if err = ds.appendRecords(raw); err != nil {
			return nil, errors.WithMessagef(err, "while decoding %s", path)
		}
	}
	klog.V(1).Infof("Loaded CIFAR-10 %s split: %d examples", name, ds.Len())
	return ds, nil
}

// appendRecords decodes the fixed-size records of one binary batch file.
//
// Each record is 1 label byte followed by 3072 pixel bytes in channel-major
// order (1024 red, 1024 green, 1024 blue, each row-major 32x32). Pixels are
// remapped to [-1, 1] and transposed to channels-last.
func (ds *Dataset) appendRecords(raw []byte) error {
	if len(raw)%bytesPerRecord != 0 {
		return errors.Errorf("file size %d is not a multiple of the %d bytes record size", len(raw), bytesPerRecord)
	}
	numRecords := len(raw) / bytesPerRecord
	for recordIdx := range numRecords {
		record := raw[recordIdx*bytesPerRecord : (recordIdx+1)*bytesPerRecord]
		label := int32(record[0])
		if label < 0 || label >= NumClasses {
			return errors.Errorf("record %d has label %d, expected 0 to %d", recordIdx, label, NumClasses-1)
		}
		ds.labels = append(ds.labels, label)
		pixels := record[1:]
		image := make([]float32, ImageSize)
		for c := range Channels {
			channel := pixels[c*Width*Height : (c+1)*Width*Height]
			for pos, value := range channel {
				image[pos*Channels+c] = float32(value)/127.5 - 1
			}
		}
		ds.images = append(ds.images, image...)
	}
	return nil
}
