// Command raftnode runs one node of a replicated log cluster: it wires the
// consensus engine to a durable file-backed log, a real gRPC transport, and
// a map-backed applier, then accepts line commands on stdin the same way
// the teacher's cmd/server does for its KV store.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"raftcore/examples/kvapplier"
	"raftcore/logstore"
	"raftcore/membership"
	"raftcore/raft"
	"raftcore/transport"
)

func main() {
	id := flag.String("id", "", "this node's id (required)")
	listen := flag.String("listen", "", "address to listen for gRPC RPCs on (required)")
	dataDir := flag.String("data", "./data", "directory for the durable log and vote file")
	peersFlag := flag.String("peers", "", "comma-separated id=address pairs for every cluster member, including self")

	electionMin := flag.Int("election-timeout-min", raft.DefaultConfig().ElectionTimeoutMin, "lower bound of randomized election timeout, ms")
	electionMax := flag.Int("election-timeout-max", raft.DefaultConfig().ElectionTimeoutMax, "upper bound of randomized election timeout, ms")
	heartbeat := flag.Int("heartbeat-interval", raft.DefaultConfig().HeartbeatIntervalMs, "leader heartbeat period, ms")
	enableTick := flag.Bool("enable-tick", true, "enable all timers")
	enableHeartbeat := flag.Bool("enable-heartbeat", true, "enable leader heartbeats")
	enableElect := flag.Bool("enable-elect", true, "enable the election timer")
	seed := flag.Int64("seed", 0, "seed for the election-timeout RNG (0 derives one)")
	flag.Parse()

	if *id == "" || *listen == "" || *peersFlag == "" {
		log.Fatal("raftnode: -id, -listen, and -peers are all required")
	}

	members, err := parsePeers(*peersFlag)
	if err != nil {
		log.Fatalf("raftnode: %v", err)
	}
	mship := membership.New(members)

	cfg := raft.Config{
		ElectionTimeoutMin:  *electionMin,
		ElectionTimeoutMax:  *electionMax,
		HeartbeatIntervalMs: *heartbeat,
		EnableTick:          *enableTick,
		EnableHeartbeat:     *enableHeartbeat,
		EnableElect:         *enableElect,
		Seed:                *seed,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("raftnode: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("raftnode: build logger: %v", err)
	}
	defer logger.Sync()

	store, err := logstore.NewFileStore(*dataDir)
	if err != nil {
		logger.Fatal("open log store", zap.Error(err))
	}
	defer store.Close()

	storageMembers := make(map[raft.NodeID]raft.Node, len(members))
	for nid, n := range members {
		storageMembers[nid] = raft.Node{ID: raft.NodeID(nid), Address: n.Address}
	}
	if err := store.Initialize(context.Background(), storageMembers); err != nil && err != raft.ErrAlreadyInitialized {
		logger.Fatal("initialize log store", zap.Error(err))
	}

	network := transport.NewGRPCNetwork(mship, grpc.WithTransportCredentials(insecure.NewCredentials()))
	defer network.Close()

	engine := raft.NewEngine(raft.NodeID(*id), mship, store, network, cfg, raft.SystemClock{}, logger)

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Fatal("listen", zap.Error(err), zap.String("address", *listen))
	}
	grpcServer := grpc.NewServer()
	transport.RegisterServer(grpcServer, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()

	applier := kvapplier.New(store, logger)
	go func() {
		if err := applier.Run(ctx, engine.Metrics()); err != nil {
			logger.Error("applier stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error("engine stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		engine.Shutdown()
		grpcServer.GracefulStop()
		cancel()
	}()

	log.Printf("raftnode %s listening on %s", *id, *listen)
	log.Println("Enter commands: PUT <key> <value>, DEL <key>, GET <key>, QUIT")
	runCommandLoop(ctx, engine, applier)
}

func runCommandLoop(ctx context.Context, engine *raft.Engine, applier *kvapplier.KVApplier) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		switch cmd {
		case "PUT":
			if len(parts) < 3 {
				fmt.Println("Usage: PUT <key> <value>")
				continue
			}
			payload := fmt.Sprintf("PUT %s %s", parts[1], strings.Join(parts[2:], " "))
			logID, err := engine.Write(ctx, []byte(payload))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("OK %s\n", logID)

		case "DEL":
			if len(parts) != 2 {
				fmt.Println("Usage: DEL <key>")
				continue
			}
			payload := fmt.Sprintf("DEL %s", parts[1])
			logID, err := engine.Write(ctx, []byte(payload))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("OK %s\n", logID)

		case "GET":
			if len(parts) != 2 {
				fmt.Println("Usage: GET <key>")
				continue
			}
			value, ok := applier.Get(parts[1])
			if !ok {
				fmt.Println("(nil)")
				continue
			}
			fmt.Printf("%s\n", value)

		case "QUIT", "EXIT":
			fmt.Println("Shutting down...")
			return

		default:
			fmt.Println("Unknown command. Available: PUT, DEL, GET, QUIT")
		}
	}
}

func parsePeers(spec string) (map[membership.NodeID]membership.Node, error) {
	out := make(map[membership.NodeID]membership.Node)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.SplitN(pair, "=", 2)
		if len(eq) != 2 {
			return nil, fmt.Errorf("invalid -peers entry %q, want id=address", pair)
		}
		id := membership.NodeID(eq[0])
		out[id] = membership.Node{ID: id, Address: eq[1]}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("-peers must name at least one member")
	}
	return out, nil
}
