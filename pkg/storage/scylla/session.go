package scylla

import (
	"time"

	"github.com/gocql/gocql"
)

// NewSession connects to a ScyllaDB cluster with the settings the service
// uses everywhere (quorum consistency, bounded retries).
func NewSession(hosts []string, keyspace string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	return cluster.CreateSession()
}
