package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"fraud_scorer/internal/discovery"
	"fraud_scorer/internal/logging"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	brokers := flag.String("brokers", os.Getenv("KAFKA_BROKERS"), "comma-separated Kafka brokers")
	limit := flag.Int("limit", 3, "number of recommended topics")
	asJSON := flag.Bool("json", false, "print the ranking as JSON")
	timeout := flag.Duration("timeout", 30*time.Second, "cluster query timeout")
	flag.Parse()

	logger := logging.New("warn", "text")

	var addrs []string
	for _, b := range strings.Split(*brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stats, err := discovery.NewLister(addrs, logger).ListTopics(ctx)
	if err != nil {
		logger.Error("Topic listing failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := printRanking(os.Stdout, stats, *limit, *asJSON); err != nil {
		logger.Error("Output failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printRanking(w io.Writer, stats []discovery.TopicStat, limit int, asJSON bool) error {
	ranked := discovery.Rank(stats)
	top := discovery.TopTopics(stats, limit)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Ranking     []discovery.TopicRelevance `json:"ranking"`
			Recommended []string                   `json:"recommended"`
		}{ranked, top})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tSCORE\tVALUE\tRECORDS\tREASONS")
	for _, r := range ranked {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", r.Topic, r.Score, r.BusinessValue, r.RecordCount, strings.Join(r.Reasons, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	critical := 0
	for _, r := range ranked {
		if r.BusinessValue == discovery.ValueCritical {
			critical++
		}
	}
	_, err := fmt.Fprintf(w, "\n%d critical topics, recommended: %s\n", critical, strings.Join(top, ", "))
	return err
}
