package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core/dbsync"
)

// Statement is one statement executed on a FakeTarget.
type Statement struct {
	SQL  string
	Args []interface{}
}

// FakeTarget is a dbsync.Dialer recording what the syncs execute instead of running it.
type FakeTarget struct {
	mu sync.Mutex

	// DialErr fails every Dial.
	DialErr error
	// FailOn fails the first statement containing it with ExecErr.
	FailOn  string
	ExecErr error
	// Block, when set, holds every Begin until it is closed.
	Block chan struct{}

	Dialed     []string
	statements []Statement
	Committed  int
	RolledBack int
	Closed     int
}

var _ dbsync.Dialer = (*FakeTarget)(nil)

func (ft *FakeTarget) Dial(_ context.Context, url string) (dbsync.Target, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.DialErr != nil {
		return nil, ft.DialErr
	}
	ft.Dialed = append(ft.Dialed, url)
	return &fakeConn{ft: ft}, nil
}

// Statements returns the statements executed so far, committed or not.
func (ft *FakeTarget) Statements() []Statement {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]Statement(nil), ft.statements...)
}

// Count returns how many executed statements start with prefix.
func (ft *FakeTarget) Count(prefix string) int {
	var n int
	for _, stmt := range ft.Statements() {
		if strings.HasPrefix(stmt.SQL, prefix) {
			n++
		}
	}
	return n
}

// Stats returns the Committed, RolledBack and Closed counters.
func (ft *FakeTarget) Stats() (committed, rolledBack, closed int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.Committed, ft.RolledBack, ft.Closed
}

type fakeConn struct {
	ft *FakeTarget
}

func (c *fakeConn) Begin(ctx context.Context) (dbsync.TargetTx, error) {
	if c.ft.Block != nil {
		select {
		case <-c.ft.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &fakeTx{ft: c.ft}, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.ft.mu.Lock()
	defer c.ft.mu.Unlock()
	c.ft.Closed++
	return nil
}

type fakeTx struct {
	ft *FakeTarget
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...interface{}) error {
	ft := tx.ft
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.FailOn != "" && strings.Contains(sql, ft.FailOn) {
		ft.FailOn = ""
		if ft.ExecErr != nil {
			return ft.ExecErr
		}
		return errors.New("statement failed")
	}
	ft.statements = append(ft.statements, Statement{SQL: sql, Args: args})
	return nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.ft.mu.Lock()
	defer tx.ft.mu.Unlock()
	tx.ft.Committed++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.ft.mu.Lock()
	defer tx.ft.mu.Unlock()
	tx.ft.RolledBack++
	return nil
}
