// kancifar trains an image classifier for the CIFAR-10 dataset.
//
//  1. With `kancifar -download`: downloads and unpacks the dataset.
//  2. With `kancifar -train`: trains the model selected with -model, reporting
//     test accuracy after every epoch and a per-class breakdown at the end.
//
// The default model uses KAN (Kolmogorov-Arnold Networks) convolutions; pass
// `-model cnn` for the plain convolutional baseline. Hyperparameters are set
// in the -model configuration string, e.g. `-model "kan,batch_size=128"`.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/kanvision/kancifar/internal/cifar"
	"github.com/kanvision/kancifar/internal/classifier"
	"github.com/kanvision/kancifar/internal/profilers"
	"github.com/kanvision/kancifar/internal/ui/progress"
)

var (
	flagDataDir  = flag.String("data", "~/tmp/cifar10", "Directory to cache the downloaded dataset.")
	flagDownload = flag.Bool("download", false, "Download and unpack the dataset, if not yet done.")
	flagTrain    = flag.Bool("train", true, "Train the model.")
	flagEpochs   = flag.Int("epochs", 10, "Number of training epochs.")
	flagModel    = flag.String("model", "kan", "Model configuration: the model type (\"kan\" or \"cnn\") followed by "+
		"comma-separated hyperparameter settings, e.g. \"kan,batch_size=128,learning_rate=0.0005\". "+
		"Use \"kan,help\" to list the supported hyperparameters.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save/load model checkpoints. If empty, the model is not saved.")
	flagLRDecay    = flag.Float64("lr_decay", 0.8, "Multiplier applied to the learning rate after each epoch.")
	flagSeed       = flag.Int64("seed", 42, "Seed used to shuffle the training examples.")
)

// globalCtx is cancelled when the program is about to exit, either by an
// interrupt (Ctrl+C) or by reaching the end.
var globalCtx = context.Background()

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C.
	var globalCancel func()
	globalCtx, globalCancel = context.WithCancel(context.Background())
	progress.SafeInterrupt(globalCancel, 5*time.Second)
	defer globalCancel()

	// Profilers: HTTP profiler server and CPU profile.
	profilers.Setup(globalCtx)
	defer profilers.OnQuit()

	err := exceptions.TryCatch[error](func() { must.M(run()) })
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		os.Exit(1)
	}
}

func run() error {
	if *flagDownload {
		if err := cifar.Download(*flagDataDir); err != nil {
			return err
		}
		klog.Infof("Dataset available in %s", *flagDataDir)
	}
	if !*flagTrain {
		if !*flagDownload {
			klog.Info("Nothing to do: use -download and/or -train.")
		}
		return nil
	}

	c, err := classifier.New(*flagModel, *flagCheckpoint)
	if err != nil {
		return err
	}
	fmt.Println(c)

	trainDS, err := cifar.LoadTrain(*flagDataDir)
	if err != nil {
		return err
	}
	testDS, err := cifar.LoadTest(*flagDataDir)
	if err != nil {
		return err
	}
	klog.Infof("Loaded %d train and %d test examples", trainDS.Len(), testDS.Len())

	return trainAndReport(globalCtx, c, trainDS, testDS)
}
