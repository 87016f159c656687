package service

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/queue"
	"github.com/iliyamo/sunnah-audio/internal/repository"
)

type downloadFixture struct {
	gw     *DownloadGateway
	files  *mockFiles
	logs   *mockLogs
	policy *mockDownloadPolicy
	events *recordingPublisher
	dir    string
}

func newDownloadFixture(t *testing.T) downloadFixture {
	f := downloadFixture{
		files:  &mockFiles{},
		logs:   &mockLogs{},
		policy: &mockDownloadPolicy{},
		events: &recordingPublisher{ch: make(chan queue.DownloadRecordedEvent, 4)},
		dir:    t.TempDir(),
	}
	f.gw = NewDownloadGateway(f.files, f.logs, f.policy, f.events, f.dir, nil, zap.NewNop())
	f.gw.now = func() time.Time { return fixedNow }
	return f
}

func audioFile(location string) model.File {
	return model.File{ID: 100, BookID: 5, ScholarID: 7, Name: "Tafsir 01", Location: location,
		Size: 11, Status: model.ContentActive}
}

func TestDownloadForbiddenWritesNoLog(t *testing.T) {
	f := newDownloadFixture(t)
	caller := model.Identity{UserID: 99}
	f.files.On("GetActiveByID", ctx, uint64(100)).Return(audioFile("x.mp3"), nil)
	f.policy.On("CanDownload", ctx, caller, uint64(7)).Return(false, nil, nil)

	_, err := f.gw.Open(ctx, DownloadRequest{Caller: caller, FileID: 100})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	f.logs.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	f.files.AssertNotCalled(t, "IncrementDownloads", mock.Anything, mock.Anything)
}

func TestDownloadMeteredAndStreamed(t *testing.T) {
	f := newDownloadFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "tafsir_ab12c.mp3"), []byte("ID3-payload"), 0o644))
	caller := model.Identity{UserID: 99}
	sub := &model.SubscriptionWithPlan{UserSubscription: model.UserSubscription{ID: 12}}

	f.files.On("GetActiveByID", ctx, uint64(100)).Return(audioFile("uploads/tafsir_ab12c.mp3"), nil)
	f.policy.On("CanDownload", ctx, caller, uint64(7)).Return(true, sub, nil)
	f.logs.On("Insert", ctx, mock.MatchedBy(func(l model.DownloadLog) bool {
		return l.UserID == 99 && l.FileID == 100 && l.SubscriptionID != nil && *l.SubscriptionID == 12 &&
			*l.IP == "10.0.0.1" && *l.UserAgent == "curl/8" && l.DownloadedAt.Equal(fixedNow)
	})).Return(uint64(555), nil).Once()
	f.files.On("IncrementDownloads", ctx, uint64(100)).Return(nil).Once()

	d, err := f.gw.Open(ctx, DownloadRequest{Caller: caller, FileID: 100, IP: "10.0.0.1", UserAgent: "curl/8"})
	require.NoError(t, err)
	defer d.Body.Close()
	f.logs.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	f.files.AssertNotCalled(t, "IncrementDownloads", mock.Anything, mock.Anything)

	d.Record(ctx)
	d.Record(ctx)

	body, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3-payload", string(body))
	assert.Equal(t, int64(11), d.Size)
	assert.Equal(t, "application/octet-stream", d.ContentType)
	assert.Equal(t, "Tafsir 01.mp3", d.Filename)
	f.logs.AssertExpectations(t)
	f.files.AssertExpectations(t)

	select {
	case ev := <-f.events.ch:
		assert.Equal(t, uint64(555), ev.LogID)
		assert.Equal(t, uint64(100), ev.FileID)
	case <-time.After(time.Second):
		t.Fatal("no download event published")
	}
}

func TestDownloadMeteringFailuresDoNotBlock(t *testing.T) {
	f := newDownloadFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "a.mp3"), []byte("abc"), 0o644))
	caller := model.Identity{UserID: 1}
	f.files.On("GetActiveByID", ctx, uint64(100)).Return(audioFile("a.mp3"), nil)
	f.policy.On("CanDownload", ctx, caller, uint64(7)).Return(true, nil, nil)
	f.logs.On("Insert", ctx, mock.Anything).Return(uint64(0), assert.AnError)
	f.files.On("IncrementDownloads", ctx, uint64(100)).Return(assert.AnError)

	d, err := f.gw.Open(ctx, DownloadRequest{Caller: caller, FileID: 100})
	require.NoError(t, err)
	defer d.Body.Close()
	d.Record(ctx)
	// stored size disagrees with disk; disk wins
	assert.Equal(t, int64(3), d.Size)
	f.files.AssertCalled(t, "IncrementDownloads", ctx, uint64(100))
}

func TestRecordWithoutMeterIsNoop(t *testing.T) {
	var d Download
	assert.NotPanics(t, func() { d.Record(ctx) })
}

func TestTrackForbiddenWritesNoLog(t *testing.T) {
	f := newDownloadFixture(t)
	caller := model.Identity{UserID: 99}
	f.files.On("GetActiveByID", ctx, uint64(100)).Return(audioFile("x.mp3"), nil)
	f.policy.On("CanDownload", ctx, caller, uint64(7)).Return(false, nil, nil)

	_, err := f.gw.Track(ctx, DownloadRequest{Caller: caller, FileID: 100})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	f.logs.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	f.files.AssertNotCalled(t, "IncrementDownloads", mock.Anything, mock.Anything)
}

func TestTrackWritesOneRowAndOneIncrement(t *testing.T) {
	f := newDownloadFixture(t)
	caller := model.Identity{UserID: 42}
	f.files.On("GetActiveByID", ctx, uint64(100)).Return(audioFile("not-on-disk.mp3"), nil)
	f.policy.On("CanDownload", ctx, caller, uint64(7)).Return(true, nil, nil)
	f.logs.On("Insert", ctx, mock.MatchedBy(func(l model.DownloadLog) bool {
		return l.UserID == 42 && l.FileID == 100 && l.SubscriptionID == nil && *l.IP == "10.0.0.2"
	})).Return(uint64(777), nil).Once()
	f.files.On("IncrementDownloads", ctx, uint64(100)).Return(nil).Once()

	at, err := f.gw.Track(ctx, DownloadRequest{Caller: caller, FileID: 100, IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, at)
	f.logs.AssertExpectations(t)
	f.files.AssertExpectations(t)
	ev := <-f.events.ch
	assert.Equal(t, uint64(777), ev.LogID)
}

func TestTrackReportsFailedAuditWrite(t *testing.T) {
	f := newDownloadFixture(t)
	caller := model.Identity{UserID: 42}
	f.files.On("GetActiveByID", ctx, uint64(100)).Return(audioFile("a.mp3"), nil)
	f.policy.On("CanDownload", ctx, caller, uint64(7)).Return(true, nil, nil)
	f.logs.On("Insert", ctx, mock.Anything).Return(uint64(0), assert.AnError)

	_, err := f.gw.Track(ctx, DownloadRequest{Caller: caller, FileID: 100})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Failed to track download")
	f.files.AssertNotCalled(t, "IncrementDownloads", mock.Anything, mock.Anything)
}

func TestDownloadMissingOnDiskIsNotFoundAndUncounted(t *testing.T) {
	f := newDownloadFixture(t)
	caller := model.Identity{UserID: 1}
	f.files.On("GetActiveByID", ctx, uint64(100)).Return(audioFile("gone.mp3"), nil)
	f.policy.On("CanDownload", ctx, caller, uint64(7)).Return(true, nil, nil)

	_, err := f.gw.Open(ctx, DownloadRequest{Caller: caller, FileID: 100})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	f.files.AssertNotCalled(t, "IncrementDownloads", mock.Anything, mock.Anything)
}

func TestDownloadInactiveFile(t *testing.T) {
	f := newDownloadFixture(t)
	f.files.On("GetActiveByID", ctx, uint64(100)).Return(model.File{}, repository.ErrNotFound)

	_, err := f.gw.Open(ctx, DownloadRequest{Caller: model.Identity{UserID: 1}, FileID: 100})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDownloadLocationCannotEscapeUploads(t *testing.T) {
	f := newDownloadFixture(t)
	assert.Equal(t, filepath.Join(f.dir, "passwd"), f.gw.diskPath(model.File{Location: "../../etc/passwd"}))
}

func TestHistoryClampsPage(t *testing.T) {
	f := newDownloadFixture(t)
	f.logs.On("ListByUser", ctx, uint64(9), MaxPageLimit, 100).Return([]model.DownloadHistoryItem{}, 0, nil)

	_, _, err := f.gw.History(ctx, 9, Page{Page: 2, Limit: 1000})
	require.NoError(t, err)
	f.logs.AssertExpectations(t)
}
