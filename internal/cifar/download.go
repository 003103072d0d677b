package cifar

import (
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// tarballURL of the binary distribution of CIFAR-10.
	tarballURL = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"

	tarballName = "cifar-10-binary.tar.gz"

	// untarredDir is the directory name inside the tarball.
	untarredDir = "cifar-10-batches-bin"
)

// untarDir returns the directory holding the .bin batch files under baseDir.
func untarDir(baseDir string) string {
	return filepath.Join(data.ReplaceTildeInDir(baseDir), untarredDir)
}

// Download fetches and unpacks the CIFAR-10 binary tarball under baseDir,
// if not already cached there. It is a no-op when the data is present.
func Download(baseDir string) error {
	baseDir = data.ReplaceTildeInDir(baseDir)
	if err := os.MkdirAll(baseDir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create dataset cache directory %s", baseDir)
	}
	err := data.DownloadAndUntarIfMissing(tarballURL, baseDir, tarballName, untarredDir, "")
	if err != nil {
		return errors.WithMessagef(err, "failed to download CIFAR-10 from %s", tarballURL)
	}
	if stat, statErr := os.Stat(filepath.Join(baseDir, tarballName)); statErr == nil {
		klog.V(1).Infof("CIFAR-10 tarball cached in %s (%s)",
			baseDir, humanize.Bytes(uint64(stat.Size())))
	}
	return nil
}
