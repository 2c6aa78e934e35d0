package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
)

// Lister reads topic names and record counts from a Kafka cluster. The
// record count of a topic is the sum over its partitions of last minus
// first offset.
type Lister struct {
	brokers []string
	dialer  *kafkago.Dialer
	logger  *slog.Logger
}

func NewLister(brokers []string, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lister{
		brokers: brokers,
		dialer:  kafkago.DefaultDialer,
		logger:  logger,
	}
}

func (l *Lister) ListTopics(ctx context.Context) ([]TopicStat, error) {
	if len(l.brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	conn, err := l.dialer.DialContext(ctx, "tcp", l.brokers[0])
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.brokers[0], err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}

	counts := make(map[string]int64)
	var order []string
	for _, p := range partitions {
		if strings.HasPrefix(p.Topic, "__") {
			continue
		}
		if _, seen := counts[p.Topic]; !seen {
			order = append(order, p.Topic)
			counts[p.Topic] = 0
		}

		n, err := l.partitionRecords(ctx, p)
		if err != nil {
			l.logger.WarnContext(ctx, "Skipping partition offsets",
				slog.String("topic", p.Topic),
				slog.Int("partition", p.ID),
				slog.String("error", err.Error()))
			continue
		}
		counts[p.Topic] += n
	}

	stats := make([]TopicStat, 0, len(order))
	for _, name := range order {
		stats = append(stats, TopicStat{Name: name, RecordCount: counts[name]})
	}
	return stats, nil
}

func (l *Lister) partitionRecords(ctx context.Context, p kafkago.Partition) (int64, error) {
	leader := net.JoinHostPort(p.Leader.Host, strconv.Itoa(p.Leader.Port))

	conn, err := l.dialer.DialLeader(ctx, "tcp", leader, p.Topic, p.ID)
	if err != nil {
		return 0, fmt.Errorf("dial leader %s: %w", leader, err)
	}
	defer conn.Close()

	first, last, err := conn.ReadOffsets()
	if err != nil {
		return 0, fmt.Errorf("read offsets: %w", err)
	}
	return last - first, nil
}
