package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/pagination"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
)

// FakeAPI is an in-memory list and detail endpoint. Pages are served in
// order per partition with tokens "page-N".
type FakeAPI struct {
	mu sync.Mutex

	pages    map[string][][]string
	sortKeys map[string]int64
	failList map[string]error
	failGet  map[string]error

	// Block, when set, holds every GetRecord until it is closed.
	Block chan struct{}

	// Started receives the id of each GetRecord call if set. It must be
	// buffered; sends never block.
	Started chan string

	ListCalls []string
	GetCalls  []string
	Tokens    map[string]int
}

// NewFakeAPI creates an empty fake.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{
		pages:    make(map[string][][]string),
		sortKeys: make(map[string]int64),
		failList: make(map[string]error),
		failGet:  make(map[string]error),
		Tokens:   make(map[string]int),
	}
}

// AddPages appends pages of ids to partition.
func (f *FakeAPI) AddPages(partition string, pages ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[partition] = append(f.pages[partition], pages...)
}

// SetSortKey sets the sort key returned for id. Ids without one sort by the
// number at their end.
func (f *FakeAPI) SetSortKey(id string, key int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sortKeys[id] = key
}

// FailList makes every list call for partition fail with err.
func (f *FakeAPI) FailList(partition string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failList[partition] = err
}

// FailGet makes every detail call for id fail with err.
func (f *FakeAPI) FailGet(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet[id] = err
}

// ListCount returns the number of list calls made.
func (f *FakeAPI) ListCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ListCalls)
}

// GetCount returns the number of detail calls made.
func (f *FakeAPI) GetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.GetCalls)
}

// ListPage implements pagination.PageLister.
func (f *FakeAPI) ListPage(ctx context.Context, cred credential.Credential, partition, pageToken string, maxResults int) (pagination.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListCalls = append(f.ListCalls, partition+"@"+pageToken)
	f.Tokens[cred.Token]++

	if err := f.failList[partition]; err != nil {
		return pagination.Page{}, err
	}

	idx := 0
	if pageToken != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(pageToken, "page-"))
		if err != nil {
			return pagination.Page{}, fmt.Errorf("invalid page token %q", pageToken)
		}
		idx = n
	}

	pages := f.pages[partition]
	if idx >= len(pages) {
		return pagination.Page{}, nil
	}
	page := pagination.Page{IDs: append([]string(nil), pages[idx]...)}
	if idx+1 < len(pages) {
		page.NextPageToken = fmt.Sprintf("page-%d", idx+1)
	}
	return page, nil
}

// GetRecord implements batch.DetailGetter.
func (f *FakeAPI) GetRecord(ctx context.Context, cred credential.Credential, id string) (*results.Record, error) {
	f.mu.Lock()
	f.GetCalls = append(f.GetCalls, id)
	f.Tokens[cred.Token]++
	block := f.Block
	started := f.Started
	err := f.failGet[id]
	key, ok := f.sortKeys[id]
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- id:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if !ok {
		key = trailingNumber(id)
	}
	return &results.Record{ID: id, SortKey: key, Payload: id}, nil
}

func trailingNumber(s string) int64 {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	n, _ := strconv.ParseInt(s[i:], 10, 64)
	return n
}
