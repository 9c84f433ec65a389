package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Connection Stress Tests
// =============================================================================

// TestStressMaxConnections verifies the server handles connection limits gracefully
// under heavy concurrent connection attempts.
func TestStressMaxConnections(t *testing.T) {
	const maxConn = 10
	const attemptedConns = 100

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := &application{
		config:      config{port: 0, maxConnections: maxConn},
		logger:      logger,
		store:       NewStore(),
		metrics:     NewMetrics(),
		readyCh:     make(chan struct{}),
		connLimiter: make(chan struct{}, maxConn),
	}
	app.router = app.commands()

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	var wg sync.WaitGroup
	var accepted, rejected atomic.Int32

	wg.Add(attemptedConns)
	for i := 0; i < attemptedConns; i++ {
		go func() {
			defer wg.Done()

			conn, err := net.DialTimeout("tcp", app.listener.Addr().String(), 5*time.Second)
			if err != nil {
				return
			}
			defer func() { _ = conn.Close() }()

			// Try to read - rejected connections get error message
			_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			reader := bufio.NewReader(conn)
			line, err := reader.ReadString('\n')

			if err == nil && line == "ERR max number of clients reached\n" {
				rejected.Add(1)
			} else {
				accepted.Add(1)
				// Keep connection alive briefly to maintain pressure
				time.Sleep(50 * time.Millisecond)
			}
		}()
	}

	wg.Wait()

	t.Logf("Connections: accepted=%d, rejected=%d, max=%d",
		accepted.Load(), rejected.Load(), maxConn)

	// We should have accepted at most maxConn connections
	if accepted.Load() > int32(maxConn) {
		t.Errorf("Accepted more connections than limit: %d > %d", accepted.Load(), maxConn)
	}
}

// TestStressRapidConnectDisconnect verifies the server handles rapid connection
// cycling without leaking resources.
func TestStressRapidConnectDisconnect(t *testing.T) {
	app := newStressTestApp(t, 50)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	const cycles = 500
	const concurrency = 20

	var wg sync.WaitGroup
	wg.Add(concurrency)

	for w := 0; w < concurrency; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < cycles/concurrency; i++ {
				conn, err := net.Dial("tcp", app.listener.Addr().String())
				if err != nil {
					continue
				}

				// Send PING, get PONG, close
				_, _ = conn.Write([]byte("PING\r\n"))
				reader := bufio.NewReader(conn)
				_, _ = reader.ReadString('\n')
				_ = conn.Close()
			}
		}()
	}

	wg.Wait()

	// Verify server is still healthy
	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatalf("Server unresponsive after stress test: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_, _ = conn.Write([]byte("PING\r\n"))
	reader := bufio.NewReader(conn)
	response, _ := reader.ReadString('\n')
	if response != "+PONG\r\n" {
		t.Errorf("Unexpected response after stress: %q", response)
	}

	t.Logf("Completed %d rapid connect/disconnect cycles", cycles)
}

// =============================================================================
// Pipeline Stress Tests
// =============================================================================

// TestStressLargePipeline verifies the server handles large command pipelines
// without blocking or running out of memory.
func TestStressLargePipeline(t *testing.T) {
	app := newStressTestApp(t, 10)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)

	const pipelineSize = 10000

	_, _ = conn.Write([]byte(fmt.Sprintf("CF.RESERVE pipeline_key %d\r\n", pipelineSize*2)))
	_, _ = reader.ReadString('\n')

	// Send all commands without waiting for responses
	for i := 0; i < pipelineSize; i++ {
		cmd := fmt.Sprintf("CF.ADD pipeline_key elem%d\r\n", i)
		_, err := conn.Write([]byte(cmd))
		if err != nil {
			t.Fatalf("Failed to send command %d: %v", i, err)
		}
	}

	// Now read all responses
	for i := 0; i < pipelineSize; i++ {
		response, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read response %d: %v", i, err)
		}
		if response != ":0\r\n" && response != ":1\r\n" {
			t.Errorf("Unexpected response %d: %q", i, response)
		}
	}

	// Verify a sample of elements exist (no false negatives)
	for i := 0; i < 10; i++ {
		cmd := fmt.Sprintf("CF.EXISTS pipeline_key elem%d\r\n", i*1000)
		_, _ = conn.Write([]byte(cmd))
		response, _ := reader.ReadString('\n')
		if response != ":1\r\n" {
			t.Errorf("False negative for elem%d: got %s", i*1000, response)
		}
	}

	t.Logf("Pipeline test: sent %d CF.ADD commands", pipelineSize)
}

// TestStressMultiClientPipeline verifies multiple clients can pipeline
// commands simultaneously without interference.
func TestStressMultiClientPipeline(t *testing.T) {
	app := newStressTestApp(t, 50)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	const clients = 10
	const commandsPerClient = 1000

	var wg sync.WaitGroup
	var errors atomic.Int32

	wg.Add(clients)
	for c := 0; c < clients; c++ {
		go func(clientID int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", app.listener.Addr().String())
			if err != nil {
				errors.Add(1)
				return
			}
			defer func() { _ = conn.Close() }()

			reader := bufio.NewReader(conn)
			key := fmt.Sprintf("client_%d_key", clientID)

			_, _ = conn.Write([]byte(fmt.Sprintf("CF.RESERVE %s %d\r\n", key, commandsPerClient*2)))
			_, _ = reader.ReadString('\n')

			// Send all commands
			for i := 0; i < commandsPerClient; i++ {
				cmd := fmt.Sprintf("CF.ADD %s elem%d\r\n", key, i)
				if _, err := conn.Write([]byte(cmd)); err != nil {
					errors.Add(1)
					return
				}
			}

			// Read all responses
			for i := 0; i < commandsPerClient; i++ {
				if _, err := reader.ReadString('\n'); err != nil {
					errors.Add(1)
					return
				}
			}
		}(c)
	}

	wg.Wait()

	if e := errors.Load(); e > 0 {
		t.Errorf("Encountered %d errors during multi-client pipeline", e)
	}

	t.Logf("Multi-client pipeline: %d clients × %d commands = %d total",
		clients, commandsPerClient, clients*commandsPerClient)
}

// =============================================================================
// Memory Pressure Tests
// =============================================================================

// TestStressManyKeys verifies the server handles a large number of distinct
// cuckoo filter keys.
func TestStressManyKeys(t *testing.T) {
	app := newStressTestApp(t, 10)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	const numKeys = 10000

	reader := bufio.NewReader(conn)

	// Create many distinct single-item filters
	for i := 0; i < numKeys; i++ {
		cmd := fmt.Sprintf("CF.ADD stress_key_%d value\r\n", i)
		_, _ = conn.Write([]byte(cmd))
		_, _ = reader.ReadString('\n')
	}

	// Verify we can still access them
	_, _ = conn.Write([]byte("CF.EXISTS stress_key_0 value\r\n"))
	response, _ := reader.ReadString('\n')

	if response != ":1\r\n" {
		t.Errorf("Unexpected response for first key: %s", response)
	}

	t.Logf("Created and verified %d distinct cuckoo filter keys", numKeys)
}

// =============================================================================
// Sustained Load Tests
// =============================================================================

// TestStressSustainedLoad runs a sustained workload for a period of time.
func TestStressSustainedLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping sustained load test in short mode")
	}

	app := newStressTestApp(t, 50)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	const duration = 2 * time.Second
	const workers = 10

	var totalOps atomic.Int64
	var errors atomic.Int64

	ctx := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func(workerID int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", app.listener.Addr().String())
			if err != nil {
				errors.Add(1)
				return
			}
			defer func() { _ = conn.Close() }()

			reader := bufio.NewReader(conn)
			key := fmt.Sprintf("sustained_key_%d", workerID)

			_, _ = conn.Write([]byte(fmt.Sprintf("CF.RESERVE %s 100000\r\n", key)))
			_, _ = reader.ReadString('\n')

			for {
				select {
				case <-ctx:
					return
				default:
					cmd := fmt.Sprintf("CF.ADD %s elem%d\r\n", key, totalOps.Load())
					if _, err := conn.Write([]byte(cmd)); err != nil {
						errors.Add(1)
						return
					}
					if _, err := reader.ReadString('\n'); err != nil {
						errors.Add(1)
						return
					}
					totalOps.Add(1)
				}
			}
		}(w)
	}

	time.Sleep(duration)
	close(ctx)
	wg.Wait()

	opsPerSec := float64(totalOps.Load()) / duration.Seconds()
	t.Logf("Sustained load: %d ops in %v (%.0f ops/sec), errors: %d",
		totalOps.Load(), duration, opsPerSec, errors.Load())

	if errors.Load() > 0 {
		t.Errorf("Encountered %d errors during sustained load", errors.Load())
	}
}

// =============================================================================
// Cuckoo Filter Stress Tests
// =============================================================================

// TestStressCuckooFilterPipeline verifies the server handles large CF.ADD/
// CF.EXISTS command pipelines without blocking or running out of memory.
func TestStressCuckooFilterPipeline(t *testing.T) {
	app := newStressTestApp(t, 10)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)

	const pipelineSize = 10000

	_, _ = conn.Write([]byte(fmt.Sprintf("CF.RESERVE cf_pipeline_key %d\r\n", pipelineSize*2)))
	_, _ = reader.ReadString('\n')

	// Send all CF.ADD commands without waiting for responses
	for i := 0; i < pipelineSize; i++ {
		cmd := fmt.Sprintf("CF.ADD cf_pipeline_key elem%d\r\n", i)
		_, err := conn.Write([]byte(cmd))
		if err != nil {
			t.Fatalf("Failed to send command %d: %v", i, err)
		}
	}

	// Now read all responses
	for i := 0; i < pipelineSize; i++ {
		response, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read response %d: %v", i, err)
		}
		if response != ":0\r\n" && response != ":1\r\n" {
			t.Errorf("Unexpected response %d: %q", i, response)
		}
	}

	// Verify a sample of elements exist (no false negatives)
	for i := 0; i < 10; i++ {
		cmd := fmt.Sprintf("CF.EXISTS cf_pipeline_key elem%d\r\n", i*1000)
		_, _ = conn.Write([]byte(cmd))
		response, _ := reader.ReadString('\n')
		if response != ":1\r\n" {
			t.Errorf("False negative for elem%d: got %s", i*1000, response)
		}
	}

	t.Logf("Cuckoo filter pipeline test: sent %d CF.ADD commands", pipelineSize)
}

// TestStressManyCuckooFilters verifies the server handles a large number of
// distinct cuckoo filter keys.
func TestStressManyCuckooFilters(t *testing.T) {
	app := newStressTestApp(t, 10)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	const numFilters = 1000
	const elementsPerFilter = 10

	reader := bufio.NewReader(conn)

	// Create many distinct cuckoo filters
	for f := 0; f < numFilters; f++ {
		for e := 0; e < elementsPerFilter; e++ {
			cmd := fmt.Sprintf("CF.ADD cf_stress_%d elem%d\r\n", f, e)
			_, _ = conn.Write([]byte(cmd))
			_, _ = reader.ReadString('\n')
		}
	}

	// Verify we can still access them
	_, _ = conn.Write([]byte("CF.EXISTS cf_stress_0 elem0\r\n"))
	response, _ := reader.ReadString('\n')

	if response != ":1\r\n" {
		t.Errorf("Unexpected response for first filter: %s", response)
	}

	// Verify last filter too
	_, _ = fmt.Fprintf(conn, "CF.EXISTS cf_stress_%d elem0\r\n", numFilters-1)
	response, _ = reader.ReadString('\n')

	if response != ":1\r\n" {
		t.Errorf("Unexpected response for last filter: %s", response)
	}

	t.Logf("Created and verified %d distinct cuckoo filters with %d elements each",
		numFilters, elementsPerFilter)
}

// TestStressCuckooFilterNearCapacity verifies the server handles a cuckoo
// filter loaded to half of its reserved capacity without false negatives,
// and measures its observed false-positive rate. Unlike the teacher's
// scalable Bloom Filter, a cuckoo filter never grows past its reserved
// shape, and CF.MERGE only accepts a source of the same shape.
func TestStressCuckooFilterNearCapacity(t *testing.T) {
	app := newStressTestApp(t, 10)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	const numElements = 10000

	reader := bufio.NewReader(conn)

	_, _ = conn.Write([]byte(fmt.Sprintf("CF.RESERVE cf_loaded %d 0.01\r\n", numElements*2)))
	_, _ = reader.ReadString('\n')

	failedInserts := 0
	for i := 0; i < numElements; i++ {
		cmd := fmt.Sprintf("CF.ADD cf_loaded elem%d\r\n", i)
		_, _ = conn.Write([]byte(cmd))
		response, _ := reader.ReadString('\n')
		if response == ":0\r\n" {
			failedInserts++
		}
	}

	if failedInserts > 0 {
		t.Errorf("%d/%d inserts failed at half capacity (should all succeed)", failedInserts, numElements)
	}

	// Verify no false negatives by checking all elements that were inserted.
	falseNegatives := 0
	for i := 0; i < numElements; i++ {
		cmd := fmt.Sprintf("CF.EXISTS cf_loaded elem%d\r\n", i)
		_, _ = conn.Write([]byte(cmd))
		response, _ := reader.ReadString('\n')
		if response != ":1\r\n" {
			falseNegatives++
		}
	}

	if falseNegatives > 0 {
		t.Errorf("Loaded cuckoo filter has %d false negatives (should be 0)", falseNegatives)
	}

	// Count false positives for elements never added.
	falsePositives := 0
	const checkCount = 10000
	for i := 0; i < checkCount; i++ {
		cmd := fmt.Sprintf("CF.EXISTS cf_loaded notexist%d\r\n", i)
		_, _ = conn.Write([]byte(cmd))
		response, _ := reader.ReadString('\n')
		if response == ":1\r\n" {
			falsePositives++
		}
	}

	fpr := float64(falsePositives) / float64(checkCount) * 100
	t.Logf("Loaded cuckoo filter: %d elements added, %d false negatives, %.2f%% FPR",
		numElements, falseNegatives, fpr)

	if fpr > 5.0 {
		t.Errorf("FPR too high: %.2f%% (expected < 5%%)", fpr)
	}
}

// TestStressCuckooFilterMultiClient verifies multiple clients can pipeline
// CF.ADD commands against distinct keys simultaneously without interference.
func TestStressCuckooFilterMultiClient(t *testing.T) {
	app := newStressTestApp(t, 50)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	const clients = 10
	const commandsPerClient = 1000

	var wg sync.WaitGroup
	var errors atomic.Int32

	wg.Add(clients)
	for c := 0; c < clients; c++ {
		go func(clientID int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", app.listener.Addr().String())
			if err != nil {
				errors.Add(1)
				return
			}
			defer func() { _ = conn.Close() }()

			reader := bufio.NewReader(conn)
			key := fmt.Sprintf("cf_client_%d", clientID)

			_, _ = conn.Write([]byte(fmt.Sprintf("CF.RESERVE %s %d\r\n", key, commandsPerClient*2)))
			_, _ = reader.ReadString('\n')

			// Send all commands
			for i := 0; i < commandsPerClient; i++ {
				cmd := fmt.Sprintf("CF.ADD %s elem%d\r\n", key, i)
				if _, err := conn.Write([]byte(cmd)); err != nil {
					errors.Add(1)
					return
				}
			}

			// Read all responses
			for i := 0; i < commandsPerClient; i++ {
				if _, err := reader.ReadString('\n'); err != nil {
					errors.Add(1)
					return
				}
			}
		}(c)
	}

	wg.Wait()

	if e := errors.Load(); e > 0 {
		t.Errorf("Encountered %d errors during multi-client cuckoo filter pipeline", e)
	}

	t.Logf("Multi-client cuckoo filter pipeline: %d clients × %d commands = %d total",
		clients, commandsPerClient, clients*commandsPerClient)
}

func newStressTestApp(t *testing.T, maxConn int) *application {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := &application{
		config:      config{port: 0, maxConnections: maxConn},
		logger:      logger,
		store:       NewStore(),
		metrics:     NewMetrics(),
		readyCh:     make(chan struct{}),
		connLimiter: make(chan struct{}, maxConn),
	}
	app.router = app.commands()
	return app
}
