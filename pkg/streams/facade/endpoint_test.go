package facade

import (
	"context"
	"math/big"
	"sync"

	"github.com/developer-mesh/nsql-gateway/pkg/streams"
)

func bigOne() *big.Int { return big.NewInt(1) }
func bigTwo() *big.Int { return big.NewInt(2) }

// fakeStreamEndpoint is a hand-written streams.Endpoint fake; each shard
// iterator handle it issues is scripted with the RecordsResponse a test
// wants GetRecords to return for that handle.
type fakeStreamEndpoint struct {
	mu         sync.Mutex
	nextHandle int
	byHandle   map[string]streams.RecordsResponse
}

func newFakeStreamEndpoint() *fakeStreamEndpoint {
	return &fakeStreamEndpoint{byHandle: map[string]streams.RecordsResponse{}}
}

func (f *fakeStreamEndpoint) script(handle string, resp streams.RecordsResponse) {
	f.byHandle[handle] = resp
}

func (f *fakeStreamEndpoint) GetShardIterator(ctx context.Context, req streams.ShardIteratorRequest) (streams.ShardIteratorResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	return streams.ShardIteratorResponse{Iterator: "h" + string(rune('0'+f.nextHandle))}, nil
}

func (f *fakeStreamEndpoint) GetRecords(ctx context.Context, req streams.RecordsRequest) (streams.RecordsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byHandle[req.Iterator], nil
}
