package driver

import "github.com/jiaoziflow/jiaoziflow/lib/dag"

// StorageOptions are process-wide storage defaults, overridden per-node by
// whatever the DAG JSON's storage block specifies. Translated from
// original_source's core::StorageOptions / kube_util::merge_storage_options.
type StorageOptions struct {
	ClassName  string
	Capacity   string
	AccessMode dag.AccessMode
}

// mergeStorage layers a node's storage block over the process defaults,
// node values winning wherever they're non-empty.
func mergeStorage(defaults StorageOptions, node dag.Storage) StorageOptions {
	out := defaults
	if node.ClassName != "" {
		out.ClassName = node.ClassName
	}
	if node.Capacity != "" {
		out.Capacity = node.Capacity
	}
	if node.AccessMode != "" {
		out.AccessMode = node.AccessMode
	}
	return out
}

// KubeOptions configures KubeDriver.
type KubeOptions struct {
	// DBURL is the Mongo connection string prefix each job's per-job
	// database is opened under (job namespace is appended as the database
	// name), and is also passed into each node's container as MONGO_URL so
	// its tracker sidecar can reach the same store.
	DBURL string
	// Storage provides process-wide PVC defaults for nodes that don't set
	// their own.
	Storage StorageOptions
	// LogLevel is passed to every deployed container via environment.
	LogLevel string
	// IPCSocketPath is the unix socket path mounted into both the tracker
	// sidecar and the user container.
	IPCSocketPath string
}

func (o KubeOptions) withDefaults() KubeOptions {
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.IPCSocketPath == "" {
		o.IPCSocketPath = "/var/run/jiaoziflow/ipc.sock"
	}
	return o
}
