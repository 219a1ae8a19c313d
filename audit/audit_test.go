package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/ocppclient"
)

func entry(seq uint64) ocppclient.LogEntry {
	return ocppclient.LogEntry{
		Seq:          seq,
		ConnectionID: "conn-1",
		Direction:    ocppclient.DirectionIn,
		Timestamp:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Frame:        `[3,"1",{}]`,
	}
}

func TestFileSinkWritesCBOR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	sink.Record("100001", entry(1))
	sink.Record("100001", entry(2))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	sink.Record("100001", entry(3))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	decoder := cbor.NewDecoder(f)
	var records []Record
	for {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			break
		}
		records = append(records, record)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "100001", records[0].Station)
	assert.Equal(t, uint64(2), records[1].Seq)
	assert.Equal(t, "IN", records[0].Direction)
	assert.Equal(t, `[3,"1",{}]`, records[0].Frame)
	assert.True(t, records[0].Timestamp.Equal(entry(1).Timestamp))
}

type fakeDB struct {
	mu   sync.Mutex
	args [][]any
	err  error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, arguments)
	return pgconn.CommandTag{}, f.err
}

func TestPostgresSinkFlushesOnClose(t *testing.T) {
	db := &fakeDB{}
	logger, _ := test.NewNullLogger()
	sink := NewPostgresSink(db, logrus.NewEntry(logger))

	for i := 1; i <= 5; i++ {
		sink.Record("100001", entry(uint64(i)))
	}
	sink.Close()
	sink.Close()
	sink.Record("100001", entry(6))

	db.mu.Lock()
	defer db.mu.Unlock()
	require.Len(t, db.args, 5)
	assert.Equal(t, "100001", db.args[0][0])
	assert.Equal(t, int64(1), db.args[0][1])
	assert.Equal(t, "IN", db.args[4][3])
	assert.Equal(t, 0, sink.Dropped())
}

func TestPostgresSinkLogsInsertErrors(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	logger, hook := test.NewNullLogger()
	sink := NewPostgresSink(db, logrus.NewEntry(logger))

	sink.Record("100001", entry(1))
	sink.Close()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
