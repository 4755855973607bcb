package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/freight-marketplace/internal/cache"
	"github.com/example/freight-marketplace/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total assignment events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	counterUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_counter_updates_total",
		Help: "Total successful advisory counter updates",
	})
	counterErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_counter_errors_total",
		Help: "Total advisory counter update errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, counterUpdates, counterErrors)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "assignment-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "freight-counter-consumer"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	counters := cache.NewCounters(redisAddr, os.Getenv("REDIS_PASSWORD"))

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
		_ = counters.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.AssignmentEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		if err := applyEventWithRetry(ctx, counters, ev, 3, 200*time.Millisecond); err != nil {
			counterErrors.Inc()
			log.Printf("counter update failed for freight=%s: %v", ev.FreightID, err)
			continue
		}
		counterUpdates.Inc()
	}
}

// CounterUpdater is the subset of cache operations the consumer needs,
// kept small for tests.
type CounterUpdater interface {
	IncrAccepted(ctx context.Context, freightID string, delta int) (int64, error)
}

// counterDelta maps an assignment event to its effect on the advisory
// acceptedTrucks counter. A slot is released exactly once, on the first
// transition out of the active set; later terminal moves such as
// DELIVERED to COMPLETED leave the counter alone. The counter is a
// display hint only; admission decisions never read it.
func counterDelta(ev models.AssignmentEvent) int {
	switch ev.Type {
	case "created":
		return 1
	case "status_changed":
		if ev.PrevStatus.OccupiesSlot() && !ev.Status.OccupiesSlot() {
			return -1
		}
	}
	return 0
}

// applyEventWithRetry updates the advisory counter with retry/backoff.
func applyEventWithRetry(ctx context.Context, cu CounterUpdater, ev models.AssignmentEvent, attempts int, delay time.Duration) error {
	delta := counterDelta(ev)
	if delta == 0 {
		return nil
	}
	for i := 0; i < attempts; i++ {
		if _, err := cu.IncrAccepted(ctx, ev.FreightID, delta); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
