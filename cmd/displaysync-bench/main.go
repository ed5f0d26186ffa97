// Command displaysync-bench measures fan-out latency of an in-process hub:
// one control pushes state updates at a fixed rate and every display
// reports how long each update took to arrive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Giorgiomufen/display-sync/pkg/hub"
	"github.com/Giorgiomufen/display-sync/pkg/protocol"
	"github.com/Giorgiomufen/display-sync/pkg/store"
)

const gib = int64(1024 * 1024 * 1024)

// drainGrace is how long displays keep reading after the last update.
const drainGrace = 2 * time.Second

type profile struct {
	Name          string
	Displays      int
	Duration      time.Duration
	RPS           float64
	PayloadBytes  int
	MaxProcs      int
	MemLimitBytes int64
}

var profiles = map[string]profile{
	"fast": {
		Name:         "fast",
		Displays:     10,
		Duration:     10 * time.Second,
		RPS:          5,
		PayloadBytes: 256,
	},
	"standard": {
		Name:         "standard",
		Displays:     50,
		Duration:     30 * time.Second,
		RPS:          10,
		PayloadBytes: 1024,
	},
	"stress": {
		Name:          "stress",
		Displays:      200,
		Duration:      60 * time.Second,
		RPS:           20,
		PayloadBytes:  4096,
		MaxProcs:      4,
		MemLimitBytes: 2 * gib,
	},
}

type benchConfig struct {
	profile
	JSONOutput string
}

type benchCounters struct {
	updatesSent   atomic.Uint64
	deliveries    atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

type benchErrors struct {
	dialFailures     atomic.Uint64
	registerFailures atomic.Uint64
	writeFailures    atomic.Uint64
	decodeFailures   atomic.Uint64
	serverErrors     atomic.Uint64
}

// sentTimes maps update sequence numbers to their send time.
type sentTimes struct {
	mu sync.RWMutex
	at map[uint64]time.Time
}

func (s *sentTimes) put(seq uint64, t time.Time) {
	s.mu.Lock()
	s.at[seq] = t
	s.mu.Unlock()
}

func (s *sentTimes) get(seq uint64) (time.Time, bool) {
	s.mu.RLock()
	t, ok := s.at[seq]
	s.mu.RUnlock()
	return t, ok
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
	if cfg.MemLimitBytes > 0 {
		debug.SetMemoryLimit(cfg.MemLimitBytes)
	}

	h := hub.New(&hub.Config{
		Store:        store.NewMemoryStore(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		DisplayCount: cfg.Displays,
		// Every display gets every update; size the queue for bursts.
		SendQueueSize: 256,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go h.Run(hubCtx)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	httpServer := &http.Server{Handler: h}
	go httpServer.Serve(ln)
	defer httpServer.Shutdown(context.Background())

	wsURL := "ws://" + ln.Addr().String() + "/"

	var (
		counters benchCounters
		errCount benchErrors
		sent     = &sentTimes{at: make(map[uint64]time.Time)}
	)

	samplesCh := make(chan time.Duration, 4096)
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for d := range samplesCh {
			samples = append(samples, d)
		}
	}()

	displays := make([]*websocket.Conn, 0, cfg.Displays)
	var readers sync.WaitGroup
	for i := 1; i <= cfg.Displays; i++ {
		conn, err := register(wsURL, protocol.TypeRegisterDisplay, i, &errCount)
		if err != nil {
			log.Printf("display %d: %v", i, err)
			continue
		}
		displays = append(displays, conn)
		readers.Add(1)
		go func() {
			defer readers.Done()
			readDisplay(conn, sent, &counters, &errCount, samplesCh)
		}()
	}

	control, err := register(wsURL, protocol.TypeRegisterControl, 0, &errCount)
	if err != nil {
		log.Fatalf("control: %v", err)
	}
	go drain(control)

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	start := time.Now()
	runControl(ctx, control, cfg, sent, &counters, &errCount)
	cancel()
	elapsed := time.Since(start)

	time.Sleep(drainGrace)
	control.Close()
	for _, c := range displays {
		c.Close()
	}
	readers.Wait()
	close(samplesCh)
	<-collectorDone

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	report := buildReport(cfg, len(displays), elapsed, samples, &counters, &errCount, before, after)

	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

func parseConfig() (benchConfig, error) {
	profileFlag := flag.String("profile", "standard", "profile: fast|standard|stress")
	displaysFlag := flag.Int("displays", -1, "number of display connections")
	durationFlag := flag.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := flag.Float64("rps", -1, "state updates per second sent by the control")
	payloadFlag := flag.Int("payload-bytes", -1, "bytes of customHtml per update")
	maxProcsFlag := flag.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	memLimitFlag := flag.String("mem-limit", "", "GOMEMLIMIT (e.g. 2GiB)")
	jsonFlag := flag.String("json", "-", "JSON output path ('-' for stdout)")
	flag.Parse()

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{profile: base, JSONOutput: strings.TrimSpace(*jsonFlag)}
	if *displaysFlag != -1 {
		cfg.Displays = *displaysFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -duration: %w", err)
		}
		cfg.Duration = d
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *payloadFlag != -1 {
		cfg.PayloadBytes = *payloadFlag
	}
	if *maxProcsFlag != -1 {
		cfg.MaxProcs = *maxProcsFlag
	}
	if *memLimitFlag != "" {
		limit, err := parseBytes(*memLimitFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -mem-limit: %w", err)
		}
		cfg.MemLimitBytes = limit
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	switch {
	case cfg.Displays <= 0:
		return benchConfig{}, errors.New("-displays must be > 0")
	case cfg.Duration <= 0:
		return benchConfig{}, errors.New("-duration must be > 0")
	case cfg.RPS <= 0:
		return benchConfig{}, errors.New("-rps must be > 0")
	case cfg.PayloadBytes <= 0:
		return benchConfig{}, errors.New("-payload-bytes must be > 0")
	case cfg.MaxProcs < 0:
		return benchConfig{}, errors.New("-max-procs must be >= 0")
	case cfg.MemLimitBytes < 0:
		return benchConfig{}, errors.New("-mem-limit must be >= 0")
	}
	return cfg, nil
}

func parseBytes(input string) (int64, error) {
	s := strings.TrimSpace(input)
	i := 0
	for i < len(s) && ((s[i] >= '0' && s[i] <= '9') || s[i] == '.') {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid size %q", input)
	}
	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, err
	}

	var multiplier float64
	switch strings.ToLower(strings.TrimSpace(s[i:])) {
	case "", "b":
		multiplier = 1
	case "kb":
		multiplier = 1e3
	case "mb":
		multiplier = 1e6
	case "gb":
		multiplier = 1e9
	case "kib":
		multiplier = 1 << 10
	case "mib":
		multiplier = 1 << 20
	case "gib":
		multiplier = 1 << 30
	default:
		return 0, fmt.Errorf("unknown size suffix in %q", input)
	}
	return int64(value*multiplier + 0.5), nil
}

// register dials the hub, sends a registration and waits for init.
func register(wsURL string, typ protocol.MessageType, displayID int, errCount *benchErrors) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		errCount.dialFailures.Add(1)
		return nil, fmt.Errorf("dial: %w", err)
	}

	msg := map[string]any{"type": typ}
	if typ == protocol.TypeRegisterDisplay {
		msg["displayId"] = displayID
	}
	if err := conn.WriteJSON(msg); err != nil {
		errCount.registerFailures.Add(1)
		conn.Close()
		return nil, fmt.Errorf("register: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var env struct {
			Type protocol.MessageType `json:"type"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			errCount.registerFailures.Add(1)
			conn.Close()
			return nil, fmt.Errorf("wait for init: %w", err)
		}
		if env.Type == protocol.TypeInit {
			return conn, nil
		}
	}
}

// runControl sends one update_state per period until ctx is done.
func runControl(ctx context.Context, conn *websocket.Conn, cfg benchConfig, sent *sentTimes, counters *benchCounters, errCount *benchErrors) {
	period := time.Duration(float64(time.Second) / cfg.RPS)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var seq uint64
	for {
		seq++
		payload, err := json.Marshal(map[string]any{
			"type":  protocol.TypeUpdateState,
			"state": map[string]string{"customHtml": makeToken(seq, cfg.PayloadBytes)},
		})
		if err != nil {
			log.Fatalf("encode update: %v", err)
		}
		sent.put(seq, time.Now())
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			errCount.writeFailures.Add(1)
			return
		}
		counters.updatesSent.Add(1)
		counters.bytesSent.Add(uint64(len(payload)))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readDisplay records the delivery latency of every state_update.
func readDisplay(conn *websocket.Conn, sent *sentTimes, counters *benchCounters, errCount *benchErrors, samples chan<- time.Duration) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received := time.Now()
		counters.bytesReceived.Add(uint64(len(data)))

		var msg struct {
			Type  protocol.MessageType `json:"type"`
			State struct {
				CustomHTML string `json:"customHtml"`
			} `json:"state"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			errCount.decodeFailures.Add(1)
			continue
		}
		switch msg.Type {
		case protocol.TypeStateUpdate:
			seq, ok := parseToken(msg.State.CustomHTML)
			if !ok {
				continue
			}
			if at, ok := sent.get(seq); ok {
				counters.deliveries.Add(1)
				samples <- received.Sub(at)
			}
		case protocol.TypeError:
			errCount.serverErrors.Add(1)
		}
	}
}

// drain discards everything the control receives so its queue never fills.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// makeToken encodes seq in a customHtml body of exactly size bytes when
// size allows it.
func makeToken(seq uint64, size int) string {
	head := "<!--" + strconv.FormatUint(seq, 10) + "-->"
	if len(head) >= size {
		return head
	}
	return head + strings.Repeat("x", size-len(head))
}

func parseToken(s string) (uint64, bool) {
	rest, ok := strings.CutPrefix(s, "<!--")
	if !ok {
		return 0, false
	}
	num, _, ok := strings.Cut(rest, "-->")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(num, 10, 64)
	return seq, err == nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	GC         gcInfo         `json:"gc"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
}

type workloadInfo struct {
	Profile           string  `json:"profile"`
	Displays          int     `json:"displays"`
	DisplaysConnected int     `json:"displays_connected"`
	DurationMS        int64   `json:"duration_ms"`
	RPS               float64 `json:"rps"`
	PayloadBytes      int     `json:"payload_bytes"`
	MaxProcs          int     `json:"max_procs"`
	MemLimitBytes     int64   `json:"mem_limit_bytes"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	UpdatesSent      uint64  `json:"updates_sent"`
	Deliveries       uint64  `json:"deliveries"`
	DeliveriesMissed uint64  `json:"deliveries_missed"`
	DeliveriesPerSec float64 `json:"deliveries_per_sec"`
	BytesSent        uint64  `json:"bytes_sent"`
	BytesReceived    uint64  `json:"bytes_received"`
}

type gcInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	HeapLiveMB   float64 `json:"heap_live_mb"`
	NumGC        uint32  `json:"num_gc"`
	PauseTotalMS float64 `json:"pause_total_ms"`
}

type errorInfo struct {
	DialFailures     uint64 `json:"dial_failures"`
	RegisterFailures uint64 `json:"register_failures"`
	WriteFailures    uint64 `json:"write_failures"`
	DecodeFailures   uint64 `json:"decode_failures"`
	ServerErrors     uint64 `json:"server_errors"`
}

func buildReport(
	cfg benchConfig,
	connected int,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	errCount *benchErrors,
	before, after runtime.MemStats,
) benchReport {
	sentTotal := counters.updatesSent.Load()
	delivered := counters.deliveries.Load()
	expected := sentTotal * uint64(connected)
	var missed uint64
	if expected > delivered {
		missed = expected - delivered
	}

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
		},
		Workload: workloadInfo{
			Profile:           cfg.Name,
			Displays:          cfg.Displays,
			DisplaysConnected: connected,
			DurationMS:        cfg.Duration.Milliseconds(),
			RPS:               cfg.RPS,
			PayloadBytes:      cfg.PayloadBytes,
			MaxProcs:          cfg.MaxProcs,
			MemLimitBytes:     cfg.MemLimitBytes,
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			UpdatesSent:      sentTotal,
			Deliveries:       delivered,
			DeliveriesMissed: missed,
			DeliveriesPerSec: float64(delivered) / math.Max(0.001, elapsed.Seconds()),
			BytesSent:        counters.bytesSent.Load(),
			BytesReceived:    counters.bytesReceived.Load(),
		},
		GC: gcInfo{
			AllocMB:      float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:   float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:        after.NumGC - before.NumGC,
			PauseTotalMS: ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
		},
		Errors: errorInfo{
			DialFailures:     errCount.dialFailures.Load(),
			RegisterFailures: errCount.registerFailures.Load(),
			WriteFailures:    errCount.writeFailures.Load(),
			DecodeFailures:   errCount.decodeFailures.Load(),
			ServerErrors:     errCount.serverErrors.Load(),
		},
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== displaysync fan-out benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Displays: %d (%d connected)\n", report.Workload.Displays, report.Workload.DisplaysConnected)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Update rate: %.2f/s, payload %d bytes\n", report.Workload.RPS, report.Workload.PayloadBytes)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Updates sent: %d\n", report.Throughput.UpdatesSent)
	fmt.Fprintf(w, "Deliveries: %d (%d missed)\n", report.Throughput.Deliveries, report.Throughput.DeliveriesMissed)
	fmt.Fprintf(w, "Throughput: %.1f deliveries/s\n", report.Throughput.DeliveriesPerSec)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "Latency (control send -> display receive):")
		fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Go runtime / GC (process-wide):")
	fmt.Fprintf(w, "  alloc:     %.2f MB\n", report.GC.AllocMB)
	fmt.Fprintf(w, "  heap_live: %.2f MB\n", report.GC.HeapLiveMB)
	fmt.Fprintf(w, "  num_gc:    %d\n", report.GC.NumGC)
	fmt.Fprintf(w, "  gc_pause:  %.2f ms (total)\n", report.GC.PauseTotalMS)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
