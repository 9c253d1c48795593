package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/metrics"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// DeviceResolver looks up print targets.
type DeviceResolver interface {
	GetByID(ctx context.Context, id string) (*models.Device, error)
}

// Normalizer rewrites PDF page geometry into a new file in dir.
type Normalizer interface {
	NormalizeFile(src, dir string) (path string, pages int, err error)
}

// Pipeline carries print jobs from upload to the printer socket.
type Pipeline struct {
	devices    DeviceResolver
	converter  Converter
	normalizer Normalizer
	transport  Transport
	bus        plugin.EventBus
	workDir    string
	logger     *zap.Logger
}

// NewPipeline assembles a pipeline. workDir holds intermediate artifacts;
// empty means the OS temp directory.
func NewPipeline(devices DeviceResolver, converter Converter, normalizer Normalizer, transport Transport, bus plugin.EventBus, workDir string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		devices:    devices,
		converter:  converter,
		normalizer: normalizer,
		transport:  transport,
		bus:        bus,
		workDir:    workDir,
		logger:     logger,
	}
}

// Print runs job through every stage. On failure the returned error is a
// *StageError and job.Stage is StageFailed. Pipeline artifacts are removed
// before Print returns; the caller owns the original upload.
func (p *Pipeline) Print(ctx context.Context, job *Job) error {
	start := time.Now()
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("device_id", job.DeviceID))
	defer func() {
		for path, err := range job.cleanup() {
			log.Warn("failed to remove print artifact", zap.String("path", path), zap.Error(err))
		}
	}()

	err := p.run(ctx, job, log)
	if err != nil {
		failedAt := job.Stage
		job.Stage = StageFailed
		serr := &StageError{Stage: failedAt, Err: err}
		metrics.PrintJobs.WithLabelValues(Reason(serr)).Inc()
		log.Warn("print job failed", zap.String("stage", string(failedAt)), zap.Error(err))
		p.publish(ctx, TopicJobFailed, job, serr)
		return serr
	}

	job.Stage = StageDelivered
	metrics.PrintJobs.WithLabelValues(string(StageDelivered)).Inc()
	metrics.PrintBytes.Add(float64(job.BytesSent))
	log.Info("print job delivered",
		zap.Int64("bytes", job.BytesSent),
		zap.Bool("converted", job.Converted),
		zap.Int("pages", job.Pages),
		zap.Duration("elapsed", time.Since(start)),
	)
	p.publish(ctx, TopicJobDelivered, job, nil)
	return nil
}

// run advances job stage by stage. job.Stage names the stage being
// attempted when an error is returned.
func (p *Pipeline) run(ctx context.Context, job *Job, log *zap.Logger) error {
	device, err := p.devices.GetByID(ctx, job.DeviceID)
	if errors.Is(err, inventory.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, job.DeviceID)
	}
	if err != nil {
		return fmt.Errorf("resolve device: %w", err)
	}
	if !device.Kind.IsPrinter() {
		return fmt.Errorf("%w: %s is a %s", ErrDeviceNotFound, device.Name, device.Kind)
	}
	if device.State == models.StateDisconnected {
		return fmt.Errorf("%w: %s", ErrDeviceDisconnected, device.Name)
	}

	var dir string
	if IsWordProcessing(job.MediaType) || IsPDF(job.MediaType) {
		if dir, err = os.MkdirTemp(p.workDir, "job-*"); err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		job.track(dir)
	}

	if IsWordProcessing(job.MediaType) {
		job.Stage = StageConverted
		out, err := p.converter.Convert(ctx, job.Path, dir)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConversion, err)
		}
		job.adopt(out, MediaPDF)
		job.Converted = true
		log.Debug("document converted", zap.String("path", out))
	}

	if IsPDF(job.MediaType) {
		job.Stage = StagePageNormalized
		out, pages, err := p.normalizer.NormalizeFile(job.Path, dir)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNormalize, err)
		}
		job.adopt(out, MediaPDF)
		job.Pages = pages
	}

	job.Stage = StageDelivered
	f, err := os.Open(job.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	n, err := p.transport.Send(ctx, device.Address, f)
	job.BytesSent = n
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, topic string, job *Job, err error) {
	if p.bus == nil {
		return
	}
	payload := JobEvent{
		JobID:     job.ID,
		DeviceID:  job.DeviceID,
		Converted: job.Converted,
		Pages:     job.Pages,
		Bytes:     job.BytesSent,
	}
	var serr *StageError
	if errors.As(err, &serr) {
		payload.Stage = serr.Stage
		payload.Reason = Reason(err)
		payload.Error = serr.Err.Error()
	}
	p.bus.PublishAsync(context.WithoutCancel(ctx), plugin.Event{
		Topic:     topic,
		Source:    "spool",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
