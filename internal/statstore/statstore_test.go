package statstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.c0redev.framelink/internal/frame"
)

func TestRecordAndLatest(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	var stats frame.MessageStats
	stats.SentMessage(18)
	require.NoError(t, db.Record(7, &stats))
	stats.SentMessage(28)
	require.NoError(t, db.Record(7, &stats))

	snap, err := db.Latest(7)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, frame.NodeID(7), snap.Peer)
	assert.Equal(t, uint64(46), snap.SentBytes)
	assert.Equal(t, uint64(2), snap.SentMessages)
	assert.False(t, snap.RecordedAt.IsZero())
}

func TestHistoryNewestFirst(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	var stats frame.MessageStats
	for i := 0; i < 3; i++ {
		stats.SentMessage(10)
		require.NoError(t, db.Record(1, &stats))
	}
	rows, err := db.History(1, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(3), rows[0].SentMessages)
	assert.Equal(t, uint64(2), rows[1].SentMessages)
}

func TestLatestUnknownPeer(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	snap, err := db.Latest(999)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
