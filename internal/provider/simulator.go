package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/status"
	"go.uber.org/zap"
)

// Simulator generates delivery receipts for outbound messages when no real
// provider is wired up: delivered after DeliverDelay, read after ReadDelay.
// Opt-in via provider.simulate_receipts.
type Simulator struct {
	bus     *bus.Bus
	tracker *status.Tracker
	logger  *zap.Logger

	DeliverDelay time.Duration
	ReadDelay    time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewSimulator creates a receipt simulator with the default delays.
func NewSimulator(b *bus.Bus, tracker *status.Tracker, logger *zap.Logger) *Simulator {
	return &Simulator{
		bus:          b,
		tracker:      tracker,
		logger:       logger,
		DeliverDelay: time.Second,
		ReadDelay:    3 * time.Second,
	}
}

// Start watches ingested messages until ctx is cancelled or Stop is called.
func (s *Simulator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ch, unsub := s.bus.Subscribe(bus.KindMessageIngested, 64)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				p, ok := evt.Payload.(*ingest.Ingested)
				if !ok || p.Message.Direction != "outbound" {
					continue
				}
				s.wg.Add(1)
				go s.receipts(ctx, p.Message.MsgID)
			}
		}
	}()
	s.logger.Info("receipt simulator enabled",
		zap.Duration("deliver_delay", s.DeliverDelay),
		zap.Duration("read_delay", s.ReadDelay))
}

// Stop cancels pending receipts and waits for in-flight ones.
func (s *Simulator) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
}

func (s *Simulator) receipts(ctx context.Context, msgID string) {
	defer s.wg.Done()
	steps := []struct {
		after time.Duration
		to    status.Status
	}{
		{s.DeliverDelay, status.Delivered},
		{s.ReadDelay - s.DeliverDelay, status.Read},
	}
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return
		case <-time.After(step.after):
		}
		if _, _, err := s.tracker.Update(msgID, step.to); err != nil {
			// The message may have been deleted meanwhile.
			if !errors.Is(err, status.ErrNotFound) {
				s.logger.Warn("simulated receipt failed",
					zap.String("msg_id", msgID),
					zap.String("status", string(step.to)),
					zap.Error(err))
			}
			return
		}
	}
}
