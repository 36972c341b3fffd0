// Package facejobs keeps the recognition gateway's face gallery in step with
// the user roster by draining face.enroll and face.delete jobs.
package facejobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"attendtrack/internal/queue"
)

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "face_jobs_total", Help: "Face gallery jobs by type and outcome"},
	[]string{"type", "outcome"},
)

func init() { prometheus.MustRegister(jobsTotal) }

// Gallery is the part of the gateway that stores faces. *faceclient.Client
// implements it.
type Gallery interface {
	RegisterFace(ctx context.Context, userID, image string) error
	DeleteFace(ctx context.Context, userID string) error
}

// Processor handles jobs one at a time. When Enabled is false jobs are
// consumed and dropped so publishers never block.
type Processor struct {
	Gallery Gallery
	Enabled bool
	Log     *zap.Logger
}

var errUnknownType = errors.New("unknown job type")

// Run consumes q until ctx is cancelled or the queue closes.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	log := p.logger()
	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	log.Info("face job processor started", zap.Bool("enabled", p.Enabled))
	for msg := range msgs {
		err := p.Handle(ctx, msg)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		default:
			log.Warn("face job failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
	log.Info("face job processor stopped")
	return nil
}

// Handle processes a single message.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) (err error) {
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		jobsTotal.WithLabelValues(msg.Type, outcome).Inc()
	}()

	var job queue.FaceJob
	if err := msg.Decode(&job); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if job.UserID == "" {
		return fmt.Errorf("%s: missing user id", msg.Type)
	}
	if !p.Enabled {
		outcome = "skipped"
		p.logger().Debug("face service disabled, job dropped", zap.String("type", msg.Type), zap.String("user_id", job.UserID))
		return nil
	}

	switch msg.Type {
	case queue.TypeFaceEnroll:
		if job.Image == "" {
			return fmt.Errorf("enroll %s: missing image", job.UserID)
		}
		if err := p.Gallery.RegisterFace(ctx, job.UserID, job.Image); err != nil {
			return fmt.Errorf("enroll %s: %w", job.UserID, err)
		}
	case queue.TypeFaceDelete:
		if err := p.Gallery.DeleteFace(ctx, job.UserID); err != nil {
			return fmt.Errorf("delete %s: %w", job.UserID, err)
		}
	default:
		return fmt.Errorf("%q: %w", msg.Type, errUnknownType)
	}
	p.logger().Info("face job done", zap.String("type", msg.Type), zap.String("user_id", job.UserID))
	return nil
}

func (p *Processor) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
