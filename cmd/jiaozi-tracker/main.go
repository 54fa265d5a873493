// Command jiaozi-tracker is the per-node sidecar described in spec.md
// §4.5: it runs a node's DataTracker (ingress RPC + IPC surface + egress
// fan-out) and the StateController that bootstraps it from durable node
// state. Configuration is environment-driven, the way a sidecar container
// injected by lib/driver's StatefulSet template is configured — one
// process per pod, no interactive flags to parse.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/cache"
	"github.com/jiaoziflow/jiaoziflow/lib/ipc"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/sender"
	"github.com/jiaoziflow/jiaoziflow/lib/statecontroller"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/jiaoziflow/jiaoziflow/lib/tracker"
	"github.com/jiaoziflow/jiaoziflow/lib/transport"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	log := jlog.NewDefault("jiaozi-tracker")
	if err := run(log); err != nil {
		log.WithError(err).Error("tracker exited")
		os.Exit(1)
	}
}

func run(log jlog.Logger) error {
	nodeName, err := requireEnv("JZ_NODE_NAME")
	if err != nil {
		return trace.Wrap(err)
	}
	nodeType := store.NodeType(getEnv("JZ_NODE_TYPE", string(store.NodeTypeCompute)))
	dbURL, err := requireEnv("JZ_DB_URL")
	if err != nil {
		return trace.Wrap(err)
	}
	dbName, err := requireEnv("JZ_DB_NAME")
	if err != nil {
		return trace.Wrap(err)
	}
	listenAddr := getEnv("JZ_LISTEN_ADDR", ":9090")
	ipcSocketPath := getEnv("JZ_IPC_SOCKET", "/var/run/jiaoziflow/ipc.sock")
	cacheDir := getEnv("JZ_CACHE_DIR", "/var/lib/jiaoziflow/cache")
	outgoing := splitNonEmpty(os.Getenv("JZ_OUTGOING_STREAMS"))
	upNodes := splitNonEmpty(os.Getenv("JZ_UP_NODES"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dbURL))
	if err != nil {
		return trace.Wrap(err, "connecting to mongo")
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck

	repo, err := store.NewMongoJobStore(ctx, client, dbName)
	if err != nil {
		return trace.Wrap(err, "opening job store")
	}

	blobCache, err := cache.NewFSCache(cacheDir, log)
	if err != nil {
		return trace.Wrap(err, "opening batch cache")
	}

	var send *sender.MultiSender
	if len(outgoing) > 0 {
		send = sender.New(outgoing, sender.GRPCDialer, log)
		defer send.Close() //nolint:errcheck
	}

	cfg := tracker.Config{
		NodeName:        nodeName,
		NodeType:        nodeType,
		MachineName:     hostname(),
		OutgoingStreams: outgoing,
		UpNodes:         upNodes,
	}

	var (
		starter statecontroller.Starter
		handler transport.DataStreamServer
		ipcSrv  *ipc.Server
	)

	if nodeType == store.NodeTypeChannel {
		t := tracker.NewChannelTracker(cfg, repo, blobCache, send, log)
		starter, handler = t, t
	} else {
		t := tracker.NewComputeTracker(cfg, repo, blobCache, send, log)
		starter, handler = t, t
		ipcSrv = ipc.NewServer(ipcSocketPath, t, log)
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return trace.Wrap(err, "listening on %v", listenAddr)
	}

	grpcSrv := grpc.NewServer()
	transport.RegisterDataStreamServer(grpcSrv, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcSrv.Serve(lis) })
	g.Go(func() error {
		sc := statecontroller.New(nodeName, repo, starter, log)
		return sc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})
	if ipcSrv != nil {
		g.Go(func() error { return ipcSrv.Start(gctx) })
	}

	return g.Wait()
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", trace.BadParameter("missing required environment variable %v", key)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostname() string {
	if m := os.Getenv("MACHINE_NAME"); m != "" {
		return m
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown-" + strconv.Itoa(os.Getpid())
	}
	return h
}
