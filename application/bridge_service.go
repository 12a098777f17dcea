package application

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReportInterval  = 30 * time.Second
	DefaultConsumeInterval = 10 * time.Millisecond

	// MaxProducerLineSize bounds a single "topic,payload" input line.
	MaxProducerLineSize = 64 * 1024
)

type BridgeService interface {
	Run(ctx context.Context) error
}

type BridgeServiceParams struct {
	Bridges []*Bridge

	// Producer, when set, is read line by line as "topic,payload" and
	// published through the first publisher bridge.
	Producer io.Reader
	// Consumer, when set, receives every line taken from the first
	// subscriber bridge.
	Consumer io.Writer

	ReportInterval  time.Duration
	ConsumeInterval time.Duration

	Clock clock.Clock

	Log zerolog.Logger
}

func (p *BridgeServiceParams) EnsureDefaults() {
	if p.ReportInterval == 0 {
		p.ReportInterval = DefaultReportInterval
	}

	if p.ConsumeInterval == 0 {
		p.ConsumeInterval = DefaultConsumeInterval
	}

	if p.Clock == nil {
		p.Clock = clock.New()
	}
}

type bridgeService struct {
	params BridgeServiceParams

	publisher  *Bridge
	subscriber *Bridge

	log zerolog.Logger
}

func NewBridgeService(params BridgeServiceParams) (BridgeService, error) {
	if len(params.Bridges) == 0 {
		return nil, fmt.Errorf("no bridges configured")
	}

	params.EnsureDefaults()

	s := &bridgeService{params: params, log: params.Log}
	for _, b := range params.Bridges {
		if b == nil {
			return nil, fmt.Errorf("bridge is nil")
		}
		switch b.Role() {
		case RolePublisher:
			if s.publisher == nil {
				s.publisher = b
			}
		case RoleSubscriber:
			if s.subscriber == nil {
				s.subscriber = b
			}
		}
	}

	if params.Producer != nil && s.publisher == nil {
		return nil, fmt.Errorf("producer configured without a publisher bridge")
	}
	if params.Consumer != nil && s.subscriber == nil {
		return nil, fmt.Errorf("consumer configured without a subscriber bridge")
	}

	return s, nil
}

func (s *bridgeService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, b := range s.params.Bridges {
		b := b
		g.Go(func() error {
			return b.Run(ctx)
		})
	}

	if s.params.Producer != nil {
		g.Go(func() error {
			s.log.Info().Msg("start reading publications")
			defer s.log.Info().Msg("stop reading publications")

			// losing the producer must not take the bridges down with it
			if err := ProduceLines(ctx, s.params.Producer, s.publisher.Outbound(), s.log); err != nil {
				s.log.Error().Err(err).Msg("reading publications failed")
			}
			return nil
		})
	}

	if s.params.Consumer != nil {
		g.Go(func() error {
			s.log.Info().Msg("start writing subscriptions")
			defer s.log.Info().Msg("stop writing subscriptions")

			return ConsumeLines(ctx, s.subscriber.Inbound(), s.params.Consumer, s.params.Clock, s.params.ConsumeInterval)
		})
	}

	// bridge status reporter
	g.Go(func() error {
		ticker := s.params.Clock.Ticker(s.params.ReportInterval)
		defer ticker.Stop()

		last := make([]MQTTStatus, len(s.params.Bridges))

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for i, b := range s.params.Bridges {
					last[i] = s.report(b, last[i])
				}
			}
		}
	})

	return g.Wait()
}

func (s *bridgeService) report(b *Bridge, last MQTTStatus) MQTTStatus {
	status := b.Status()

	ev := s.log.Info().
		Str("role", b.Role().String()).
		Str("state", b.State().State().String()).
		Uint64("published", status.MessageCount).
		Uint64("published_since_last_report", status.MessageCount-last.MessageCount).
		Time("last_time_published", status.LastTimePublished)

	if q := b.Outbound(); q != nil {
		ev = ev.Int("queued", q.Len()).Uint64("evicted", q.Evicted())
	}
	if q := b.Inbound(); q != nil {
		ev = ev.Int("received_pending", q.Len()).Uint64("dropped", q.Dropped())
	}
	if r := b.Registry(); r != nil {
		ev = ev.Int("topics", r.Len())
	}

	ev.Msg("bridge report")
	return status
}

// ProduceLines publishes each "topic,payload" line read from r until r is
// exhausted or ctx is done. Malformed lines and lines longer than
// MaxProducerLineSize are skipped; a full queue is logged by the queue and
// does not stop the producer. A read blocked on r is abandoned when ctx is
// done.
func ProduceLines(ctx context.Context, r io.Reader, q *OutboundQueue, log zerolog.Logger) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)

		errc <- readLines(bufio.NewReaderSize(r, MaxProducerLineSize), log, func(line []byte) bool {
			select {
			case lines <- line:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			publishLine(line, q, log)
		}
	}
}

// readLines hands a copy of every '\n' terminated line to emit until EOF or
// emit returns false. Lines that do not fit the reader's buffer are dropped
// up to their terminating newline.
func readLines(br *bufio.Reader, log zerolog.Logger, emit func(line []byte) bool) error {
	oversized := false
	dropped := 0

	for {
		chunk, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			oversized = true
			dropped += len(chunk)
			continue
		}
		if err != nil && err != io.EOF {
			return err
		}

		if oversized {
			dropped += len(chunk)
			log.Warn().Int("size", dropped).Int("max", br.Size()).Msg("publication line too long, dropped")
			oversized, dropped = false, 0
		} else if len(chunk) > 0 {
			line := append([]byte(nil), bytes.TrimSuffix(chunk, []byte("\n"))...)
			if !emit(line) {
				return nil
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

func publishLine(line []byte, q *OutboundQueue, log zerolog.Logger) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}

	topic, payload, ok := bytes.Cut(line, []byte(","))
	if !ok || len(topic) == 0 {
		log.Warn().Bytes("line", line).Msg("expected topic,payload")
		return
	}

	// failures are logged by the queue
	_ = q.Publish(topic, payload)
}

// ConsumeLines polls q every interval and writes each received line to w,
// releasing it afterwards. It returns when ctx is done or w fails.
func ConsumeLines(ctx context.Context, q *InboundQueue, w io.Writer, clk clock.Clock, interval time.Duration) error {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for {
			l, ok := q.TryTakeLine()
			if !ok {
				break
			}
			_, err := w.Write(l.Bytes())
			l.Release()
			if err != nil {
				return err
			}
		}
	}
}

var _ BridgeService = &bridgeService{}
