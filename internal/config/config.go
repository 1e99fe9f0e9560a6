package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"resnet-forge/internal/dataset"
	"resnet-forge/internal/device"
	"resnet-forge/internal/model"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Epochs         int     `yaml:"epochs"`
	DataDir        string  `yaml:"data_dir"`
	Download       bool    `yaml:"download"`
	DownloadURL    string  `yaml:"download_url"`
	Device         string  `yaml:"device"`
	Arch           string  `yaml:"arch"`
	Width          int     `yaml:"width"`
	Seed           int64   `yaml:"seed"`
	TrainBatchSize int     `yaml:"train_batch_size"`
	EvalBatchSize  int     `yaml:"eval_batch_size"`
	ShuffleTrain   bool    `yaml:"shuffle_train"`
	ShuffleEval    bool    `yaml:"shuffle_eval"`
	NumWorkers     int     `yaml:"num_workers"`
	Prefetch       int     `yaml:"prefetch"`
	LR             float64 `yaml:"lr"`
	MinLR          float64 `yaml:"min_lr"`
	Momentum       float64 `yaml:"momentum"`
	WeightDecay    float64 `yaml:"weight_decay"`
	LogEvery       int     `yaml:"log_every"`
	ExactAccuracy  bool    `yaml:"exact_accuracy"`

	Tracking Tracking `yaml:"tracking"`
}

// Tracking configures the experiment tracker.
type Tracking struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Project string `yaml:"project"`
	Name    string `yaml:"name"`
}

// Default returns the reference CIFAR-10 recipe.
func Default() *Config {
	return &Config{
		Epochs:         200,
		DataDir:        "./data",
		Download:       true,
		DownloadURL:    dataset.DefaultURL,
		Device:         device.CPUName,
		Arch:           "resnet50",
		Width:          64,
		TrainBatchSize: 128,
		EvalBatchSize:  100,
		ShuffleTrain:   true,
		NumWorkers:     2,
		Prefetch:       4,
		LR:             0.1,
		Momentum:       0.9,
		WeightDecay:    5e-4,
		LogEvery:       50,
		Tracking: Tracking{
			Dir:     "./runs",
			Project: "resnet-test",
			Name:    "resnet50",
		},
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs         int
	DataDir        string
	Device         string
	Arch           string
	Width          int
	Seed           int64
	TrainBatchSize int
	EvalBatchSize  int
	NumWorkers     int
	LR             float64
	LogEvery       int
	Track          bool
	TrackDir       string
	NoDownload     bool
}

// Load reads a YAML file on top of Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default without validating.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.Arch != "" {
		c.Arch = o.Arch
	}
	if o.Width > 0 {
		c.Width = o.Width
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.TrainBatchSize > 0 {
		c.TrainBatchSize = o.TrainBatchSize
	}
	if o.EvalBatchSize > 0 {
		c.EvalBatchSize = o.EvalBatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LR > 0 {
		c.LR = o.LR
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Track {
		c.Tracking.Enabled = true
	}
	if o.TrackDir != "" {
		c.Tracking.Dir = o.TrackDir
	}
	if o.NoDownload {
		c.Download = false
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.Download && c.DownloadURL == "" {
		return errors.New("download_url must be set when download is enabled")
	}
	if err := device.Validate(c.Device); err != nil {
		return err
	}
	if !validArch(c.Arch) {
		return fmt.Errorf("arch must be one of %v (got %q)", model.Architectures, c.Arch)
	}
	if c.Width <= 0 {
		return fmt.Errorf("width must be > 0 (got %d)", c.Width)
	}
	if c.TrainBatchSize <= 0 {
		return fmt.Errorf("train_batch_size must be > 0 (got %d)", c.TrainBatchSize)
	}
	if c.EvalBatchSize <= 0 {
		return fmt.Errorf("eval_batch_size must be > 0 (got %d)", c.EvalBatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.LR <= 0 {
		return fmt.Errorf("lr must be > 0 (got %g)", c.LR)
	}
	if c.MinLR < 0 || c.MinLR > c.LR {
		return fmt.Errorf("min_lr must be in [0, lr] (got %g)", c.MinLR)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", c.WeightDecay)
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 2 * c.NumWorkers
	}
	if c.LogEvery < 0 {
		c.LogEvery = 0
	}
	if c.Tracking.Enabled && (c.Tracking.Dir == "" || c.Tracking.Project == "") {
		return errors.New("tracking.dir and tracking.project must be set when tracking is enabled")
	}
	return nil
}

func validArch(name string) bool {
	for _, a := range model.Architectures {
		if a == name {
			return true
		}
	}
	return false
}
