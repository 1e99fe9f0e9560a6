package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/born-ml/born/nn"

	"resnet-forge/internal/config"
	"resnet-forge/internal/dataset"
	"resnet-forge/internal/metrics"
	"resnet-forge/internal/model"
	"resnet-forge/internal/optimizer"
	"resnet-forge/internal/schedule"
	"resnet-forge/internal/tracking"
)

// Orchestrator runs the full train/eval schedule on one backend.
type Orchestrator[B Backend] struct {
	Config  *config.Config
	Backend B

	// Train and Eval are loaded from Config.DataDir when nil.
	Train *dataset.Dataset
	Eval  *dataset.Dataset
	// Tracker defaults to tracking.Nop.
	Tracker tracking.Tracker
	// Out receives the per-epoch progress lines. Defaults to os.Stdout.
	Out io.Writer
}

// Run executes cfg.Epochs epochs on backend, tracking to disk when enabled.
func Run[B Backend](ctx context.Context, cfg *config.Config, backend B) error {
	var tracker tracking.Tracker = tracking.Nop{}
	if cfg.Tracking.Enabled {
		ft, err := tracking.NewFile(cfg.Tracking.Dir, cfg.Tracking.Project, cfg.Tracking.Name, cfg)
		if err != nil {
			return err
		}
		log.Printf("tracking run=%s path=%s", ft.Run().ID, ft.Path())
		tracker = ft
	}
	return runAndClose(ctx, &Orchestrator[B]{Config: cfg, Backend: backend, Tracker: tracker})
}

// runAndClose runs o and closes its tracker. A close failure is reported
// only when the run itself succeeded.
func runAndClose[B Backend](ctx context.Context, o *Orchestrator[B]) (err error) {
	defer func() {
		if cerr := o.Tracker.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close tracker: %w", cerr)
		}
	}()
	return o.Run(ctx)
}

// LoadData makes sure the dataset is on disk and loads both splits.
func LoadData(ctx context.Context, cfg *config.Config) (train, eval *dataset.Dataset, err error) {
	if cfg.Download {
		dl := &dataset.Downloader{URL: cfg.DownloadURL}
		if err := dl.Ensure(ctx, cfg.DataDir); err != nil {
			return nil, nil, err
		}
	}
	if train, err = dataset.Load(cfg.DataDir, true); err != nil {
		return nil, nil, err
	}
	if eval, err = dataset.Load(cfg.DataDir, false); err != nil {
		return nil, nil, err
	}
	log.Printf("dataset root=%s train=%d eval=%d", cfg.DataDir, train.Len(), eval.Len())
	return train, eval, nil
}

// Run executes the training workload.
func (o *Orchestrator[B]) Run(ctx context.Context) error {
	cfg := o.Config
	if cfg == nil {
		return errors.New("trainer: config is nil")
	}
	if cfg.Epochs <= 0 {
		return errors.New("trainer: epochs must be > 0")
	}
	tracker := o.Tracker
	if tracker == nil {
		tracker = tracking.Nop{}
	}
	out := o.Out
	if out == nil {
		out = os.Stdout
	}

	if o.Train == nil || o.Eval == nil {
		train, eval, err := LoadData(ctx, cfg)
		if err != nil {
			return err
		}
		o.Train, o.Eval = train, eval
	}

	trainOpts, evalOpts := loaderOptions(cfg)
	trainLoader, err := dataset.NewLoader(o.Train, trainOpts)
	if err != nil {
		return fmt.Errorf("train loader: %w", err)
	}
	evalLoader, err := dataset.NewLoader(o.Eval, evalOpts)
	if err != nil {
		return fmt.Errorf("eval loader: %w", err)
	}

	net, err := model.New(model.Config{
		Arch:          cfg.Arch,
		NumClasses:    dataset.NumClasses,
		InputChannels: o.Train.Channels,
		Width:         cfg.Width,
		Seed:          cfg.Seed,
	}, o.Backend)
	if err != nil {
		return err
	}
	params := net.Parameters()
	log.Printf("model arch=%s width=%d params=%d backend=%s", cfg.Arch, cfg.Width, model.CountParameters(params), o.Backend.Name())

	opt := optimizer.NewSGD(params, optimizer.Config{
		LR:          float32(cfg.LR),
		Momentum:    float32(cfg.Momentum),
		WeightDecay: float32(cfg.WeightDecay),
	}, o.Backend)
	sched := schedule.NewCosineAnnealing(opt, cfg.LR, cfg.MinLR, cfg.Epochs)
	criterion := nn.NewCrossEntropyLoss(o.Backend)

	trainStep := NewStep[B](net, criterion, o.Backend, opt)
	evalStep := NewStep[B](net, criterion, o.Backend, nil)
	runOpts := RunOptions{LogEvery: cfg.LogEvery, ExactAccuracy: cfg.ExactAccuracy}

	o.Backend.Tape().StartRecording()
	defer o.Backend.Tape().StopRecording()

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		lr := sched.LR()

		train, err := runLoader(ctx, trainStep, trainLoader, epoch, runOpts)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		fmt.Fprintf(out, "Epoch: %d, Train Loss: %v, Train Acc: %v\n", epoch, train.MeanLoss, train.Accuracy)

		val, err := runLoader(ctx, evalStep, evalLoader, epoch, runOpts)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		fmt.Fprintf(out, "Epoch: %d, Val Loss: %v, Val Acc: %v\n", epoch, val.MeanLoss, val.Accuracy)

		if err := tracker.Log(epoch, tracking.Record{
			tracking.TrainLoss:    train.MeanLoss,
			tracking.TrainAcc:     train.Accuracy,
			tracking.ValLoss:      val.MeanLoss,
			tracking.ValAcc:       val.Accuracy,
			tracking.LearningRate: lr,
		}); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		sched.Step()

		log.Printf("epoch=%d lr=%.6f next_lr=%.6f train_samples=%d val_samples=%d elapsed=%s",
			epoch, lr, sched.LR(), train.Samples, val.Samples, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func loaderOptions(cfg *config.Config) (train, eval dataset.LoaderOptions) {
	train = dataset.LoaderOptions{
		BatchSize:  cfg.TrainBatchSize,
		Shuffle:    cfg.ShuffleTrain,
		NumWorkers: cfg.NumWorkers,
		Prefetch:   cfg.Prefetch,
		Seed:       cfg.Seed,
		Transform:  dataset.TrainTransforms(),
	}
	eval = dataset.LoaderOptions{
		BatchSize:  cfg.EvalBatchSize,
		Shuffle:    cfg.ShuffleEval,
		NumWorkers: cfg.NumWorkers,
		Prefetch:   cfg.Prefetch,
		Seed:       cfg.Seed,
		Transform:  dataset.EvalTransforms(),
	}
	return train, eval
}

func runLoader(ctx context.Context, step Step, loader *dataset.Loader, epoch int, opts RunOptions) (metrics.EpochMetrics, error) {
	it := loader.Epoch(ctx, epoch)
	defer it.Close()
	return RunEpoch(ctx, step, it, opts)
}
