// parley-loadtest drives synthetic traffic against a Parley server:
// each worker registers an account, creates a private channel, and
// posts messages at a configurable rate while measuring round-trip
// latency from MESSAGE_SEND to the MESSAGE_POSTED echo.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/protocol"
)

const loremIpsum = "lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor incididunt ut labore et dolore magna aliqua"

var loremWords = strings.Fields(loremIpsum)

// Stats aggregates counters across all workers
type Stats struct {
	posted        atomic.Int64
	failed        atomic.Int64
	loginFailures atomic.Int64
	disconnects   atomic.Int64
	totalLatUs    atomic.Int64
	latSamples    atomic.Int64
}

func (s *Stats) recordPost(latency time.Duration) {
	s.posted.Add(1)
	s.totalLatUs.Add(latency.Microseconds())
	s.latSamples.Add(1)
}

func (s *Stats) snapshot() (posted, failed int64, avgLatMs float64) {
	posted = s.posted.Load()
	failed = s.failed.Load()
	if n := s.latSamples.Load(); n > 0 {
		avgLatMs = float64(s.totalLatUs.Load()) / float64(n) / 1000
	}
	return
}

// worker owns one connection and one private channel
type worker struct {
	id       int
	conn     *client.Connection
	username string
	channel  uint64
	stats    *Stats
}

func newWorker(id int, serverAddr string, stats *Stats) (*worker, error) {
	conn, err := client.NewConnection(serverAddr)
	if err != nil {
		return nil, err
	}
	conn.DisableAutoReconnect()
	return &worker{
		id:       id,
		conn:     conn,
		username: fmt.Sprintf("loadtest_%d_%d", os.Getpid(), id),
		stats:    stats,
	}, nil
}

// setup connects, registers, and creates the worker's channel
func (w *worker) setup() error {
	if err := w.conn.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	err := w.conn.SendEvent(protocol.TypeLogin, &protocol.LoginEvent{
		Username: w.username,
		Password: "loadtest-password",
		Register: true,
	})
	if err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	if _, err := w.awaitType(protocol.TypeLoginSucceeded, 10*time.Second); err != nil {
		w.stats.loginFailures.Add(1)
		return fmt.Errorf("login: %w", err)
	}

	err = w.conn.SendEvent(protocol.TypeChannelCreate, &protocol.ChannelCreateEvent{
		Name: fmt.Sprintf("load-%d", w.id),
	})
	if err != nil {
		return fmt.Errorf("send channel create: %w", err)
	}
	frame, err := w.awaitType(protocol.TypeChannelCreated, 10*time.Second)
	if err != nil {
		return fmt.Errorf("channel create: %w", err)
	}
	var created protocol.ChannelCreatedEvent
	if err := created.Decode(frame.Payload); err != nil {
		return fmt.Errorf("decode channel: %w", err)
	}
	w.channel = created.Channel.ID
	return nil
}

// awaitType reads frames until one of the wanted type arrives
func (w *worker) awaitType(eventType uint8, timeout time.Duration) (*protocol.Frame, error) {
	deadline := time.After(timeout)
	for {
		select {
		case frame, ok := <-w.conn.Incoming():
			if !ok {
				w.stats.disconnects.Add(1)
				return nil, fmt.Errorf("connection closed")
			}
			if frame.Type == eventType {
				return frame, nil
			}
			if frame.Type == protocol.TypeLoginFailed || frame.Type == protocol.TypeRequestFailed {
				return nil, fmt.Errorf("server rejected request (%s)", protocol.EventName(frame.Type))
			}
		case err := <-w.conn.Errors():
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for %s", protocol.EventName(eventType))
		}
	}
}

// run posts messages until the stop channel closes
func (w *worker) run(stop <-chan struct{}, minDelay, maxDelay time.Duration) {
	defer w.conn.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := w.postOne(); err != nil {
			w.stats.failed.Add(1)
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
	}
}

func (w *worker) postOne() error {
	n := 3 + rand.Intn(12)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}

	start := time.Now()
	err := w.conn.SendEvent(protocol.TypeMessageSend, &protocol.MessageSendEvent{
		ChannelID: w.channel,
		Body:      strings.Join(words, " "),
	})
	if err != nil {
		return err
	}
	if _, err := w.awaitType(protocol.TypeMessagePosted, 10*time.Second); err != nil {
		return err
	}
	w.stats.recordPost(time.Since(start))
	return nil
}

func main() {
	serverAddr := flag.String("server", "localhost:7475", "Server address (host[:port], ws://, or wss://)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 500*time.Millisecond, "Minimum delay between posts")
	maxDelay := flag.Duration("max-delay", 3*time.Second, "Maximum delay between posts")
	flag.Parse()

	stats := &Stats{}
	stop := make(chan struct{})

	var wg sync.WaitGroup
	var ready atomic.Int64
	for i := 0; i < *numClients; i++ {
		w, err := newWorker(i, *serverAddr, stats)
		if err != nil {
			log.Fatalf("Invalid server address: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.setup(); err != nil {
				log.Printf("worker %d setup failed: %v", w.id, err)
				stats.failed.Add(1)
				return
			}
			ready.Add(1)
			w.run(stop, *minDelay, *maxDelay)
		}()
		// Stagger connections so the server isn't hit by a thundering herd.
		time.Sleep(20 * time.Millisecond)
	}

	log.Printf("Running %d clients against %s for %s", *numClients, *serverAddr, *duration)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	end := time.After(*duration)

loop:
	for {
		select {
		case <-ticker.C:
			posted, failed, avgLat := stats.snapshot()
			log.Printf("connected=%d posted=%d failed=%d avg_latency=%.1fms",
				ready.Load(), posted, failed, avgLat)
		case <-end:
			break loop
		case <-sigCh:
			log.Printf("Interrupted, shutting down")
			break loop
		}
	}

	close(stop)
	wg.Wait()

	posted, failed, avgLat := stats.snapshot()
	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("clients:        %d\n", *numClients)
	fmt.Printf("messages:       %d\n", posted)
	fmt.Printf("failures:       %d\n", failed)
	fmt.Printf("login failures: %d\n", stats.loginFailures.Load())
	fmt.Printf("disconnects:    %d\n", stats.disconnects.Load())
	fmt.Printf("avg latency:    %.1fms\n", avgLat)
}
