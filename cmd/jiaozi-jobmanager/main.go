// Command jiaozi-jobmanager runs the control-plane process described in
// spec.md §4.6 and §6: the JobManager control loop picking up and
// reconciling jobs, and the HTTP job API serving CRUD requests against the
// same MainRepo. Both run as supervised goroutines under one errgroup, the
// way a combined control-plane binary in this stack runs its listener and
// background workers side by side.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/api"
	"github.com/jiaoziflow/jiaoziflow/lib/driver"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/jobmanager"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

func main() {
	log := jlog.NewDefault("jiaozi-jobmanager")
	if err := run(log); err != nil {
		log.WithError(err).Error("jobmanager exited")
		os.Exit(1)
	}
}

func run(log jlog.Logger) error {
	dbURL := getEnv("JZ_DB_URL", "mongodb://localhost:27017")
	mainDB := getEnv("JZ_MAIN_DB_NAME", "jiaoziflow")
	listenAddr := getEnv("JZ_API_LISTEN_ADDR", ":8080")
	kubeconfig := os.Getenv("JZ_KUBECONFIG")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dbURL))
	if err != nil {
		return trace.Wrap(err, "connecting to mongo")
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck

	main, err := store.NewMongoMainStore(ctx, client, mainDB)
	if err != nil {
		return trace.Wrap(err, "opening main store")
	}

	kubeClient, err := newKubeClient(kubeconfig)
	if err != nil {
		return trace.Wrap(err, "building kubernetes client")
	}

	d := driver.NewKubeDriver(kubeClient, driver.KubeOptions{DBURL: dbURL}, log)

	open := func(ctx context.Context, job *store.Job) (store.JobDbRepo, error) {
		return store.NewMongoJobStore(ctx, client, jobmanager.Namespace(job))
	}

	manager := jobmanager.New(d, main, open, log)
	handler := api.NewHandler(main, d, open, log)

	httpSrv := &http.Server{Addr: listenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return trace.Wrap(err, "serving job api on %v", listenAddr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	var cfg *rest.Config
	var err error
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return kubernetes.NewForConfig(cfg)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
