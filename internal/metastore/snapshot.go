package metastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/storage"
)

// SnapshotSuffix ends every snapshot object name.
const SnapshotSuffix = ".db.sz"

// acquireIdle claims the token without opening a transaction, so that
// statements which cannot run inside one (VACUUM) can use the connection.
func (s *Store) acquireIdle(ctx context.Context) error {
	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		return xerrors.NewPersistenceError(xerrors.CodeTxnWaitTimeout, "metastore: snapshot gave up waiting for the transaction token", ctx.Err())
	}
	s.mu.Lock()
	s.owner = SystemOwner
	s.mu.Unlock()
	return nil
}

// Backup writes a consistent, snappy-compressed copy of the store to
// objects under prefix and returns the object name. Writers are held off
// while the copy is taken.
func (s *Store) Backup(ctx context.Context, objects storage.ObjectStorage, prefix string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "xdb-snapshot-*")
	if err != nil {
		return "", xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to create temp dir", err)
	}
	defer os.RemoveAll(tmpDir)
	copyPath := filepath.Join(tmpDir, "meta.db")

	if err := s.acquireIdle(ctx); err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, "VACUUM INTO '"+strings.ReplaceAll(copyPath, "'", "''")+"'")
	s.release()
	if err != nil {
		return "", xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: VACUUM INTO failed", err)
	}

	name := fmt.Sprintf("%smeta-%d-%s%s", prefix, time.Now().UTC().UnixNano(), uuid.New().String()[:8], SnapshotSuffix)

	f, err := os.Open(copyPath)
	if err != nil {
		return "", xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to open snapshot copy", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	go func() {
		zw := snappy.NewBufferedWriter(pw)
		_, err := io.Copy(zw, f)
		err = multierr.Append(err, zw.Close())
		pw.CloseWithError(err)
	}()

	if err := objects.Put(ctx, name, pr); err != nil {
		pr.CloseWithError(err)
		return "", xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to upload snapshot", err)
	}

	logutil.Logger(ctx).Info("metadata snapshot written", zap.String("object", name))
	return name, nil
}

// ListSnapshots returns the snapshot objects under prefix, oldest first.
// Snapshot names embed their creation time, so key order is age order.
func ListSnapshots(ctx context.Context, objects storage.ObjectStorage, prefix string) ([]storage.ObjectInfo, error) {
	all, err := objects.List(ctx, prefix)
	if err != nil {
		return nil, xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to list snapshots", err)
	}
	snaps := all[:0]
	for _, o := range all {
		if strings.HasSuffix(o.Key, SnapshotSuffix) {
			snaps = append(snaps, o)
		}
	}
	return snaps, nil
}

// PruneSnapshots deletes all but the newest keep snapshots under prefix
// and returns the deleted names. keep <= 0 keeps everything.
func PruneSnapshots(ctx context.Context, objects storage.ObjectStorage, prefix string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	snaps, err := ListSnapshots(ctx, objects, prefix)
	if err != nil || len(snaps) <= keep {
		return nil, err
	}
	var deleted []string
	for _, o := range snaps[:len(snaps)-keep] {
		if err := objects.Delete(ctx, o.Key); err != nil {
			return deleted, xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to prune snapshot", err)
		}
		deleted = append(deleted, o.Key)
	}
	logutil.Logger(ctx).Info("old metadata snapshots pruned", zap.Strings("objects", deleted), zap.Int("kept", keep))
	return deleted, nil
}

// Restore writes the snapshot object name to dbPath. The store must not be
// open. An existing file is only replaced when overwrite is set.
func Restore(ctx context.Context, objects storage.ObjectStorage, name, dbPath string, overwrite bool) (err error) {
	if _, statErr := os.Stat(dbPath); statErr == nil && !overwrite {
		return xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed,
			fmt.Sprintf("metastore: %s already exists", dbPath), nil)
	}

	rc, err := objects.Get(ctx, name)
	if err != nil {
		return xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to fetch snapshot", err)
	}
	defer func() { err = multierr.Append(err, rc.Close()) }()

	tmp, err := os.CreateTemp(filepath.Dir(dbPath), ".restore-*")
	if err != nil {
		return xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, snappy.NewReader(rc)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to decompress snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to write snapshot", err)
	}

	// Stale WAL files would be replayed over the restored image.
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}
	if err := os.Rename(tmpName, dbPath); err != nil {
		os.Remove(tmpName)
		return xerrors.NewPersistenceError(xerrors.CodeSnapshotFailed, "metastore: failed to install snapshot", err)
	}
	return nil
}
