// Command jiaozictl is the job-management CLI described in spec.md §6,
// talking to a jiaozi-jobmanager's HTTP API through lib/jobclient. Command
// registration and dispatch follow the teacher's kingpin Application
// pattern (tool/gravity/cli/register.go, run.go): one struct field per
// flag/subcommand, a single switch over FullCommand() to dispatch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/jobclient"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"gopkg.in/alecthomas/kingpin.v2"
)

// Application holds every flag and subcommand jiaozictl recognizes.
type Application struct {
	*kingpin.Application

	Server *string

	CreateCmd struct {
		*kingpin.CmdClause
		Name      *string
		GraphFile *string
	}
	RunCmd struct {
		*kingpin.CmdClause
		ID *string
	}
	ListCmd struct {
		*kingpin.CmdClause
	}
	DetailCmd struct {
		*kingpin.CmdClause
		ID *string
	}
	CleanCmd struct {
		*kingpin.CmdClause
		ID *string
	}
}

func registerCommands(app *kingpin.Application) *Application {
	a := &Application{Application: app}

	a.Server = app.Flag("server", "jiaozi-jobmanager API address").Default("http://127.0.0.1:8080").String()

	a.CreateCmd.CmdClause = app.Command("create", "Submit a new job")
	a.CreateCmd.Name = a.CreateCmd.Flag("name", "Job name").Required().String()
	a.CreateCmd.GraphFile = a.CreateCmd.Arg("graph-file", "Path to the DAG JSON document (spec.md §6)").Required().String()

	a.RunCmd.CmdClause = app.Command("run", "Start a manually-created job")
	a.RunCmd.ID = a.RunCmd.Arg("id", "Job id").Required().String()

	a.ListCmd.CmdClause = app.Command("list", "List submitted jobs")

	a.DetailCmd.CmdClause = app.Command("detail", "Show a job's nodes and cluster status")
	a.DetailCmd.ID = a.DetailCmd.Arg("id", "Job id").Required().String()

	a.CleanCmd.CmdClause = app.Command("clean", "Set a job's state to Clean (does not delete its namespace or store)")
	a.CleanCmd.ID = a.CleanCmd.Arg("id", "Job id").Required().String()

	return a
}

func main() {
	app := kingpin.New("jiaozictl", "JiaoziFlow job management CLI")
	a := registerCommands(app)
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := run(a, cmd); err != nil {
		fmt.Fprintln(os.Stderr, trace.DebugReport(err))
		os.Exit(1)
	}
}

func run(a *Application, cmd string) error {
	c, err := jobclient.NewClient(*a.Server)
	if err != nil {
		return trace.Wrap(err, "building client for %v", *a.Server)
	}
	ctx := context.Background()

	switch cmd {
	case a.CreateCmd.FullCommand():
		return runCreate(ctx, c, *a.CreateCmd.Name, *a.CreateCmd.GraphFile)
	case a.RunCmd.FullCommand():
		return runStart(ctx, c, *a.RunCmd.ID)
	case a.ListCmd.FullCommand():
		return runList(ctx, c)
	case a.DetailCmd.FullCommand():
		return runDetail(ctx, c, *a.DetailCmd.ID)
	case a.CleanCmd.FullCommand():
		return runClean(ctx, c, *a.CleanCmd.ID)
	}
	return trace.BadParameter("unrecognized command %v", cmd)
}

func runCreate(ctx context.Context, c *jobclient.Client, name, graphFile string) error {
	graphJSON, err := os.ReadFile(graphFile)
	if err != nil {
		return trace.Wrap(err, "reading %v", graphFile)
	}
	job, err := c.CreateJob(ctx, &store.Job{Name: name, GraphJSON: string(graphJSON), ManualRun: true})
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("created job %v (%v)\n", job.Name, job.ID.Hex())
	return nil
}

func runStart(ctx context.Context, c *jobclient.Client, id string) error {
	created := store.JobStateCreated
	if err := c.UpdateJob(ctx, id, store.JobUpdateInfo{State: &created}); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("job %v queued for running\n", id)
	return nil
}

func runList(ctx context.Context, c *jobclient.Client) error {
	jobs, err := c.ListJobs(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, job := range jobs {
		fmt.Printf("%v\t%v\t%v\n", job.ID.Hex(), job.Name, job.State)
	}
	return nil
}

func runDetail(ctx context.Context, c *jobclient.Client, id string) error {
	detail, err := c.JobDetail(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	out, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Println(string(out))
	return nil
}

func runClean(ctx context.Context, c *jobclient.Client, id string) error {
	clean := store.JobStateClean
	if err := c.UpdateJob(ctx, id, store.JobUpdateInfo{State: &clean}); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("job %v marked for cleanup\n", id)
	return nil
}
