package billing

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/burncloud/burncloud-router/internal/store"
)

func journalDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.LogEntry{}))
	return db
}

func TestJournal_DrainsToStore(t *testing.T) {
	db := journalDB(t)
	j := NewJournal(db, 10)

	for i := 0; i < 5; i++ {
		j.Push(&store.LogEntry{RequestId: "r" + strconv.Itoa(i), StatusCode: 200})
	}
	j.Close()

	var count int64
	require.NoError(t, db.Model(&store.LogEntry{}).Count(&count).Error)
	assert.Equal(t, int64(5), count)
}

func TestJournal_StampsCreatedAt(t *testing.T) {
	db := journalDB(t)
	j := NewJournal(db, 10)

	before := time.Now().Unix()
	j.Push(&store.LogEntry{RequestId: "r1"})
	j.Close()

	var entry store.LogEntry
	require.NoError(t, db.First(&entry).Error)
	assert.GreaterOrEqual(t, entry.CreatedAt, before)
}

func TestJournal_CloseIsIdempotent(t *testing.T) {
	j := NewJournal(journalDB(t), 1)
	j.Close()
	j.Close()
}
