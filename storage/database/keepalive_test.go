package database

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingCounter struct {
	pings atomic.Int32
	err   error
}

func (pc *pingCounter) ExecContext(_ context.Context, query string, _ ...interface{}) (sql.Result, error) {
	if query == "SELECT 1" {
		pc.pings.Add(1)
	}
	return nil, pc.err
}

func (pc *pingCounter) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (pc *pingCounter) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

type warnRecorder struct {
	mu    sync.Mutex
	warns []string
}

func (wr *warnRecorder) Debug(string, ...interface{}) {}
func (wr *warnRecorder) Info(string, ...interface{})  {}
func (wr *warnRecorder) Error(string, ...interface{}) {}
func (wr *warnRecorder) Fatal(string, ...interface{}) {}

func (wr *warnRecorder) Warn(msg string, args ...interface{}) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			msg += ": " + err.Error()
		}
	}
	wr.warns = append(wr.warns, msg)
}

func TestKeepAlive(t *testing.T) {
	db := new(pingCounter)
	ka := NewKeepAlive(db, new(warnRecorder), 10*time.Millisecond)
	require.NoError(t, ka.Start())

	require.Eventually(t, func() bool { return db.pings.Load() >= 2 }, time.Second, 5*time.Millisecond)
	ka.Stop()

	// no ping after Stop
	stopped := db.pings.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, db.pings.Load(), stopped+1)
}

func TestKeepAlive_disabled(t *testing.T) {
	db := new(pingCounter)
	ka := NewKeepAlive(db, new(warnRecorder), 0)
	require.NoError(t, ka.Start())
	time.Sleep(20 * time.Millisecond)
	ka.Stop()
	assert.Zero(t, db.pings.Load())
}

func TestKeepAlive_Ping(t *testing.T) {
	db := &pingCounter{err: errors.New("connection reset by peer")}
	logger := new(warnRecorder)
	ka := NewKeepAlive(db, logger, time.Minute)

	ka.Ping()
	assert.EqualValues(t, 1, db.pings.Load())
	assert.Equal(t, []string{"database keep-alive failed: keep-alive: connection reset by peer"}, logger.warns)
}
