package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/gistvac/server/innodb/storage/gist"
)

func TestPageDeleteRecord(t *testing.T) {
	rec := &PageDeleteRecord{Leaf: 7, Parent: 2, Downlink: 3, DeleteXid: 1 << 40}
	entry := NewPageDeleteEntry(rec)
	assert.Equal(t, LOG_TYPE_GIST_PAGE_DELETE, entry.Type)
	assert.Equal(t, gist.BlockNumber(7), entry.PageID)

	decoded, err := DecodePageDeleteRecord(entry.Data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	_, err = DecodePageDeleteRecord(entry.Data[:5])
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestPageUpdateRecordTruncated(t *testing.T) {
	data := NewPageUpdateEntry(1, []gist.OffsetNumber{1, 2, 3}).Data
	_, err := DecodePageUpdateRecord(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrBadRecord)

	_, err = DecodePageUpdateRecord(data[:3])
	assert.ErrorIs(t, err, ErrBadRecord)

	rec, err := DecodePageUpdateRecord(NewPageUpdateEntry(5, nil).Data)
	require.NoError(t, err)
	assert.Empty(t, rec.Deleted)
}
