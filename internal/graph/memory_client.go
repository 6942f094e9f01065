package graph

import (
	"context"
	"sync"
)

// MemoryClient is a scripted Client for exercising graph-backed code without a
// running database. Each call pops the next queued reply for its access mode;
// when the queue is empty an optional Responder is consulted, and otherwise
// an empty result is returned.
type MemoryClient struct {
	mu           sync.Mutex
	writeCalls   []ExecutedQuery
	readCalls    []ExecutedQuery
	readReplies  []reply
	writeReplies []reply
	responder    Responder
	connectivity error
}

// ExecutedQuery captures a cypher statement and parameters executed against the graph.
type ExecutedQuery struct {
	Query  string
	Params map[string]any
	Write  bool
}

// Responder computes a reply for queries that have no queued result.
type Responder func(q ExecutedQuery) (Result, error)

type reply struct {
	res Result
	err error
}

// NewMemoryClient instantiates an empty scripted client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// WithResponder installs fn as the fallback for unscripted calls.
func (m *MemoryClient) WithResponder(fn Responder) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
	return m
}

// WithConnectivityError forces VerifyConnectivity to return the supplied error.
func (m *MemoryClient) WithConnectivityError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// PushReadResult queues a result for the next ExecuteRead call.
func (m *MemoryClient) PushReadResult(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readReplies = append(m.readReplies, reply{res: res})
}

// PushWriteResult queues a result for the next ExecuteWrite call.
func (m *MemoryClient) PushWriteResult(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeReplies = append(m.writeReplies, reply{res: res})
}

// PushReadError makes the next ExecuteRead call fail with err.
func (m *MemoryClient) PushReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readReplies = append(m.readReplies, reply{err: err})
}

// PushWriteError makes the next ExecuteWrite call fail with err.
func (m *MemoryClient) PushWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeReplies = append(m.writeReplies, reply{err: err})
}

func (m *MemoryClient) ExecuteWrite(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return m.execute(ExecutedQuery{Query: cypher, Params: cloneMap(params), Write: true})
}

func (m *MemoryClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return m.execute(ExecutedQuery{Query: cypher, Params: cloneMap(params)})
}

func (m *MemoryClient) execute(q ExecutedQuery) (Result, error) {
	m.mu.Lock()
	queue := &m.readReplies
	if q.Write {
		m.writeCalls = append(m.writeCalls, q)
		queue = &m.writeReplies
	} else {
		m.readCalls = append(m.readCalls, q)
	}

	if len(*queue) > 0 {
		next := (*queue)[0]
		*queue = (*queue)[1:]
		m.mu.Unlock()
		return next.res, next.err
	}
	responder := m.responder
	m.mu.Unlock()

	if responder != nil {
		return responder(q)
	}
	return Result{}, nil
}

func (m *MemoryClient) VerifyConnectivity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryClient) Close(context.Context) error {
	return nil
}

// WriteCalls returns a snapshot of executed write queries.
func (m *MemoryClient) WriteCalls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedQuery(nil), m.writeCalls...)
}

// ReadCalls returns a snapshot of executed read queries.
func (m *MemoryClient) ReadCalls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedQuery(nil), m.readCalls...)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
