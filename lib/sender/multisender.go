// Package sender implements MultiSender, the egress fan-out component
// described in spec.md §4.4, translated from original_source's
// crates/nodes_sdk/src/multi_sender.rs.
package sender

import (
	"context"
	"sync"

	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
	"github.com/jiaoziflow/jiaoziflow/lib/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dialer creates a DataStreamClient for an endpoint address. Exposed so
// tests can substitute an in-process fake instead of a real gRPC dial.
type Dialer func(ctx context.Context, addr string) (transport.DataStreamClient, func() error, error)

// GRPCDialer dials addr with an insecure (no TLS) gRPC connection, matching
// the node-to-node transport's current trust model: traffic stays within
// the job's namespace.
func GRPCDialer(ctx context.Context, addr string) (transport.DataStreamClient, func() error, error) {
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return transport.NewDataStreamClient(conn), conn.Close, nil
}

// MultiSender fans a batch out to an ordered list of downstream node
// addresses, dialing lazily and tolerating partial failure.
type MultiSender struct {
	mu      sync.Mutex
	streams []string
	clients []transport.DataStreamClient
	closers []func() error
	dial    Dialer
	log     jlog.Logger
}

// New returns a MultiSender for the given downstream addresses, in the
// order they should be tried.
func New(streams []string, dial Dialer, log jlog.Logger) *MultiSender {
	if dial == nil {
		dial = GRPCDialer
	}
	if log == nil {
		log = jlog.NewDefault("multi-sender")
	}
	return &MultiSender{
		streams: streams,
		clients: make([]transport.DataStreamClient, len(streams)),
		closers: make([]func() error, len(streams)),
		dial:    dial,
		log:     log,
	}
}

// PartialSendError reports which destinations a Send reached successfully,
// when it did not reach all of them.
type PartialSendError struct {
	Sent []string
}

func (e *PartialSendError) Error() string {
	return "multisender: batch only reached a subset of downstream nodes"
}

// Send delivers batch to every destination not already present in
// alreadySent, in declaration order. It returns nil if every destination
// was reached (this call or previously), or a *PartialSendError carrying
// the cumulative sent set otherwise. Destinations are dialed lazily and a
// dial or RPC failure only skips that destination for this call, it does
// not abort the fan-out.
func (s *MultiSender) Send(ctx context.Context, batch *transport.Batch, alreadySent []string) error {
	sentSet := make(map[string]struct{}, len(alreadySent))
	for _, v := range alreadySent {
		sentSet[v] = struct{}{}
	}

	sent := make([]string, 0, len(s.streams))
	for i, addr := range s.streams {
		if _, ok := sentSet[addr]; ok {
			sent = append(sent, addr)
			continue
		}

		client, err := s.clientFor(ctx, i, addr)
		if err != nil {
			s.log.WithError(err).Warnf("connect data stream %v", addr)
			continue
		}

		if _, err := client.TransferBatch(ctx, batch); err != nil {
			s.log.WithError(err).Warnf("send batch %v to %v, will retry later", batch.ID, addr)
			continue
		}
		sent = append(sent, addr)
	}

	if len(sent) == len(s.streams) {
		return nil
	}
	return &PartialSendError{Sent: sent}
}

func (s *MultiSender) clientFor(ctx context.Context, index int, addr string) (transport.DataStreamClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[index] != nil {
		return s.clients[index], nil
	}
	client, closer, err := s.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.clients[index] = client
	s.closers[index] = closer
	return client, nil
}

// Close tears down every dialed connection.
func (s *MultiSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, closer := range s.closers {
		if closer == nil {
			continue
		}
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Streams returns the configured destination addresses, in order.
func (s *MultiSender) Streams() []string {
	return append([]string(nil), s.streams...)
}
