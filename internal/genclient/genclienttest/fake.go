// Package genclienttest provides a scripted generator for tests.
package genclienttest

import (
	"context"
	"errors"
	"sync"

	"sitecrew/cli/internal/genclient"
)

// Reply is one scripted answer. Chunks are streamed in order; Text answers
// Complete calls. Err fails the call before any output, StreamErr after it.
type Reply struct {
	Chunks    []genclient.Chunk
	Text      string
	ToolCalls []genclient.ToolCall
	Err       error
	StreamErr error
	// OnChunk runs before the chunk at the given index is handed out.
	OnChunk func(index int)
	// OnCall runs when the call is made, before its result is returned.
	OnCall func()
}

func Text(chunks ...string) Reply {
	out := Reply{}
	for _, c := range chunks {
		out.Chunks = append(out.Chunks, genclient.Chunk{Text: c})
	}
	return out
}

// Generator hands out replies per call name in FIFO order.
type Generator struct {
	mu       sync.Mutex
	replies  map[string][]Reply
	requests []genclient.Request
}

func New() *Generator {
	return &Generator{replies: map[string][]Reply{}}
}

func (g *Generator) Push(call string, replies ...Reply) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[call] = append(g.replies[call], replies...)
	return g
}

func (g *Generator) Requests() []genclient.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]genclient.Request(nil), g.requests...)
}

func (g *Generator) CallCount(call string) int {
	n := 0
	for _, req := range g.Requests() {
		if req.Call == call {
			n++
		}
	}
	return n
}

func (g *Generator) next(req genclient.Request) (Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	queue := g.replies[req.Call]
	if len(queue) == 0 {
		return Reply{}, errors.New("no scripted reply for " + req.Call)
	}
	g.replies[req.Call] = queue[1:]
	return queue[0], nil
}

func (g *Generator) OpenStream(ctx context.Context, req genclient.Request) (genclient.Stream, error) {
	reply, err := g.next(req)
	if err != nil {
		return nil, err
	}
	if reply.OnCall != nil {
		reply.OnCall()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &stream{reply: reply, index: -1}, nil
}

func (g *Generator) Complete(ctx context.Context, req genclient.Request) (*genclient.Response, error) {
	reply, err := g.next(req)
	if err != nil {
		return nil, err
	}
	if reply.OnCall != nil {
		reply.OnCall()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	text := reply.Text
	var sources []genclient.Source
	for _, c := range reply.Chunks {
		text += c.Text
		sources = append(sources, c.Sources...)
	}
	return &genclient.Response{Text: text, Sources: sources, ToolCalls: reply.ToolCalls}, nil
}

type stream struct {
	reply Reply
	index int
	err   error
}

func (s *stream) Next() bool {
	if s.index+1 >= len(s.reply.Chunks) {
		s.err = s.reply.StreamErr
		return false
	}
	s.index++
	if s.reply.OnChunk != nil {
		s.reply.OnChunk(s.index)
	}
	return true
}

func (s *stream) Chunk() genclient.Chunk {
	return s.reply.Chunks[s.index]
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	return nil
}
