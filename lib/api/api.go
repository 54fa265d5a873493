// Package api implements the job HTTP API described in spec.md §6:
// CRUD over Job documents plus a job-detail endpoint joining a job with its
// per-node cluster status. Translated from original_source's
// src/api/job_api.rs and src/api/server.rs, with actix-web's routing
// replaced by the teacher's httprouter-based webapi pattern
// (lib/webapi/webhandler.go).
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/dag"
	"github.com/jiaoziflow/jiaoziflow/lib/driver"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/jobmanager"
	"github.com/jiaoziflow/jiaoziflow/lib/store"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStoreOpener opens the per-job store behind a job, used to compute
// per-node data counts for job-detail. It has the same function shape as
// jobmanager.JobStoreOpener but is declared as its own type.
type JobStoreOpener func(ctx context.Context, job *store.Job) (store.JobDbRepo, error)

// Handler serves the job API over an embedded httprouter.Router, the way
// the teacher's WebHandler embeds one (lib/webapi/webhandler.go).
type Handler struct {
	httprouter.Router

	main   store.MainRepo
	driver driver.Driver
	open   JobStoreOpener
	log    jlog.Logger
}

// NodeDetail is one entry of a job-detail response's node_status array
// (spec.md §6).
type NodeDetail struct {
	Name      string                      `json:"name"`
	State     store.TrackerState          `json:"state"`
	DataCount int                         `json:"data_count"`
	Replicas  uint32                      `json:"replicas"`
	Storage   string                      `json:"storage"`
	Pods      map[string]driver.PodStatus `json:"pods"`
}

// JobDetail is the job-detail endpoint's response body.
type JobDetail struct {
	Job        *store.Job   `json:"job"`
	NodeStatus []NodeDetail `json:"node_status"`
}

// NewHandler builds a Handler and registers its routes.
func NewHandler(main store.MainRepo, d driver.Driver, open JobStoreOpener, log jlog.Logger) *Handler {
	if log == nil {
		log = jlog.NewDefault("job-api")
	}
	h := &Handler{main: main, driver: d, open: open, log: log}
	h.GET("/api/v1/jobs", h.list)
	h.POST("/api/v1/job", h.create)
	h.GET("/api/v1/job/:id", h.get)
	h.POST("/api/v1/job/:id", h.update)
	h.DELETE("/api/v1/job/:id", h.delete)
	h.GET("/api/v1/job/detail/:id", h.detail)
	return h
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var job store.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := dag.FromJSON([]byte(job.GraphJSON)); err != nil {
		writeError(w, http.StatusBadRequest, trace.Wrap(err, "invalid graph_json"))
		return
	}
	job.State = store.JobStateCreated
	inserted, err := h.main.Insert(r.Context(), &job)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, inserted)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := primitive.ObjectIDFromHex(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := h.main.Get(r.Context(), store.GetJobParams{}.WithID(id))
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	jobs, err := h.main.ListJobs(r.Context(), store.ListJobParams{})
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := primitive.ObjectIDFromHex(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var info store.JobUpdateInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.main.Update(r.Context(), id, info); err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := primitive.ObjectIDFromHex(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.main.Delete(r.Context(), id); err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := primitive.ObjectIDFromHex(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := h.main.Get(r.Context(), store.GetJobParams{}.WithID(id))
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	detail := JobDetail{Job: job}

	g, err := dag.FromJSON([]byte(job.GraphJSON))
	if err != nil {
		h.log.WithError(err).Warn("job detail: parsing graph_json")
		writeJSON(w, http.StatusOK, detail)
		return
	}

	namespace := jobmanager.Namespace(job)
	pc, pcErr := h.driver.Attach(r.Context(), namespace, g)
	repo, repoErr := h.open(r.Context(), job)

	_ = g.Iter(func(cu *dag.ComputeUnit) error {
		detail.NodeStatus = append(detail.NodeStatus, h.nodeDetail(r.Context(), cu.Name, cu.Replicas, cu.Storage, pc, pcErr, repo, repoErr))
		if cu.Channel != nil {
			ch := cu.Channel
			detail.NodeStatus = append(detail.NodeStatus, h.nodeDetail(r.Context(), ch.Name, ch.Replicas, ch.Storage, pc, pcErr, repo, repoErr))
		}
		return nil
	})

	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) nodeDetail(
	ctx context.Context,
	name string,
	replicas uint32,
	storage dag.Storage,
	pc driver.PipelineController,
	pcErr error,
	repo store.JobDbRepo,
	repoErr error,
) NodeDetail {
	nd := NodeDetail{Name: name, Replicas: replicas, Storage: storage.Capacity}

	if repoErr == nil && repo != nil {
		if node, err := repo.GetNodeByName(ctx, name); err == nil && node != nil {
			nd.State = node.State
		}
		countIn, _ := repo.Count(ctx, name, nil, nil)
		nd.DataCount = countIn
	}

	if pcErr == nil && pc != nil {
		if unit, err := pc.GetNode(name); err == nil {
			if status, err := unit.Status(ctx); err == nil {
				nd.Pods = status.Pods
			}
		}
	}

	return nd
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForErr(err error) int {
	switch {
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
