package application

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
)

// BridgeState is the lifecycle state of the bridge as a whole.
type BridgeState int32

const (
	BridgeStarting BridgeState = iota
	BridgeRunning
	BridgeDraining
	BridgeStopped
)

func (s BridgeState) String() string {
	switch s {
	case BridgeStarting:
		return "starting"
	case BridgeRunning:
		return "running"
	case BridgeDraining:
		return "draining"
	case BridgeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const BridgeDefaultReportInterval = 30 * time.Second

type BridgeServiceParams struct {
	Serial *SerialTransport
	Broker *MessageTransport

	// Inbound and Outbound are the two queues wiring the transports
	// together; the service only observes them for reporting. Outbound may
	// be nil (printer daemon).
	Inbound  *BridgeQueue
	Outbound *BridgeQueue

	ReportInterval time.Duration

	Log zerolog.Logger
}

func (p *BridgeServiceParams) EnsureDefaults() {
	if p.ReportInterval == 0 {
		p.ReportInterval = BridgeDefaultReportInterval
	}
}

// BridgeService is the composition root of one daemon. It supervises the
// serial and message transports as independent goroutines; each carries its
// own retry loop, so a fault in one never reaches the other or the
// process. The service exposes no operations beyond Run.
type BridgeService struct {
	params BridgeServiceParams

	state atomic.Int32

	log zerolog.Logger
}

func NewBridgeService(params BridgeServiceParams) (*BridgeService, error) {
	if params.Serial == nil {
		return nil, fmt.Errorf("Serial transport is nil")
	}
	if params.Broker == nil {
		return nil, fmt.Errorf("Broker transport is nil")
	}
	if params.Inbound == nil {
		return nil, fmt.Errorf("Inbound queue is nil")
	}
	params.EnsureDefaults()

	return &BridgeService{params: params, log: params.Log}, nil
}

func (b *BridgeService) State() BridgeState {
	return BridgeState(b.state.Load())
}

func (b *BridgeService) setState(s BridgeState) {
	b.state.Store(int32(s))
}

// Run starts both transports and blocks until ctx is cancelled and both
// have shut down. On cancellation the service enters Draining while the
// message transport flushes enqueued outbound Messages within its grace
// period.
func (b *BridgeService) Run(ctx context.Context) error {
	b.setState(BridgeStarting)
	defer b.setState(BridgeStopped)

	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		b.reportLoop(reporterCtx)
	})
	defer wg.Wait()

	g := errgroup.Group{}

	g.Go(func() error {
		b.log.Info().Msg("serial transport starting")
		defer b.log.Info().Msg("serial transport done")
		return b.params.Serial.Run(ctx)
	})

	g.Go(func() error {
		b.log.Info().Msg("message transport starting")
		defer b.log.Info().Msg("message transport done")
		return b.params.Broker.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		b.setState(BridgeDraining)
		b.log.Info().Msg("shutdown signal observed, draining")
		return nil
	})

	b.setState(BridgeRunning)
	return g.Wait()
}

// reportLoop periodically logs the health of both transports and the queue
// depths, including the message rate since the previous report.
func (b *BridgeService) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(b.params.ReportInterval)
	defer ticker.Stop()

	lastStatus := MQTTStatus{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newStatus := b.params.Broker.ClientStatus()

			ev := b.log.Info().
				Stringer("bridge_state", b.State()).
				Stringer("serial_state", b.params.Serial.State()).
				Stringer("broker_state", b.params.Broker.State()).
				Bool("broker_connected", newStatus.Connected).
				Int("inbound_queued", b.params.Inbound.Len()).
				Uint64("inbound_dropped", b.params.Inbound.Dropped()).
				Uint64("publish_failures", b.params.Broker.PublishFailures())

			if b.params.Outbound != nil {
				ev = ev.
					Int("outbound_queued", b.params.Outbound.Len()).
					Uint64("outbound_dropped", b.params.Outbound.Dropped())
			}

			if newStatus.MessageCount >= lastStatus.MessageCount {
				ev = ev.Uint64("published_since_last_report", newStatus.MessageCount-lastStatus.MessageCount)
			}
			if !newStatus.LastTimePublished.IsZero() {
				ev = ev.Time("last_time_published", newStatus.LastTimePublished)
			}

			ev.Msg("bridge report")
			lastStatus = newStatus
		}
	}
}
